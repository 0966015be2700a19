package codec

import (
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/timex"
	"golang.org/x/crypto/blake2b"
)

type fingerprintView struct {
	Kind        string            `json:"k"`
	ID          string            `json:"i"`
	OwnerID     string            `json:"o"`
	HouseholdID string            `json:"h"`
	Attributes  models.Attributes `json:"a"`
	Operation   models.Operation  `json:"op"`
	CreatedAt   int64             `json:"c"`
	UpdatedAt   int64             `json:"u"`
	DeletedAt   int64             `json:"d"`
}

// Fingerprint returns the BLAKE2b-256 digest of r's canonical form. Seq is
// left out, so the same version stored on two replicas has one fingerprint.
func Fingerprint(r models.Record) []byte {
	r = r.Normalized()
	view := fingerprintView{
		Kind:        r.Kind,
		ID:          r.ID,
		OwnerID:     r.Tenant.OwnerID,
		HouseholdID: r.Tenant.HouseholdID,
		Attributes:  r.Attributes,
		Operation:   r.Operation,
		CreatedAt:   timex.Micros(r.CreatedAt),
		UpdatedAt:   timex.Micros(r.UpdatedAt),
	}
	if r.DeletedAt != nil {
		view.DeletedAt = timex.Micros(*r.DeletedAt)
	}

	b, err := canonical(view)
	if err != nil {
		// Attributes that cannot be marshalled still need a stable digest.
		b = []byte(fmt.Sprintf("%#v", view))
	}
	sum := blake2b.Sum256(b)
	return sum[:]
}
