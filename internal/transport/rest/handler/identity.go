package handler

import (
	"net/http"

	"pairsync/internal/model"
)

// demoIdentities is the static roster clients pick a sync identity
// from. Identities are labels only; claiming one is not authenticated.
var demoIdentities = []model.DemoIdentity{
	{ID: "nicolas-wild", Name: "Nicolas Wild", Email: "nicolas.wild@googlemail.com", AvatarPath: "nw.jpg", Color: "#2563eb"},
	{ID: "clara-nguyen", Name: "Clara Nguyen", Email: "clara.nguyen@web.de", AvatarPath: "cn.jpg", Color: "#dc2626"},
	{ID: "andreas-bauer", Name: "Andreas Bauer", Email: "andreas.bauer@gmail.com", AvatarPath: "ab.jpg", Color: "#16a34a"},
	{ID: "andrea-wimmer", Name: "Andrea Wimmer", Email: "andrea.wimmer@example.com", AvatarPath: "aw.jpg", Color: "#9333ea"},
	{ID: "anna-dannhauser", Name: "Anna Dannhauser", Email: "anna.dannhauser@example.com", AvatarPath: "ad.jpg", Color: "#ea580c"},
	{ID: "stefan-keller", Name: "Stefan Keller", Email: "stefan.keller@example.com", AvatarPath: "sk.jpg", Color: "#0891b2"},
	{ID: "tobias-bauer", Name: "Tobias Bauer", Email: "tobias.bauer@example.com", AvatarPath: "tb.jpg", Color: "#4f46e5"},
	{ID: "jana-belawa", Name: "Jana Belawa", Email: "jana.belawa@example.com", AvatarPath: "jb.jpg", Color: "#be185d"},
	{ID: "leonie-austin", Name: "Leonie Austin", Email: "leonie.austin@example.com", AvatarPath: "la.jpg", Color: "#059669"},
}

// IdentityHandler serves the demo identity roster
type IdentityHandler struct{}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler() *IdentityHandler {
	return &IdentityHandler{}
}

// List handles GET /v1/identities
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, demoIdentities)
}
