package model

// DemoIdentity is one entry of the static demo roster clients can pick
// an identity from. Picking an identity grants nothing; it is only a
// label shown to other participants.
type DemoIdentity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	AvatarPath string `json:"avatarPath"`
	Color      string `json:"color"`
}
