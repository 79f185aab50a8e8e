package room

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/trezcool/tathmini/core"
)

var (
	dupRubricIDText = "duplicate rubric item id"
	joinCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CleanJoinCode normalizes a join code for lookup; codes are stored uppercase
// and compared case-insensitively.
func CleanJoinCode(code string) string {
	return strings.ToUpper(core.CleanString(code))
}

func generateJoinCode() string {
	max := big.NewInt(int64(len(joinCodeCharset)))
	code := make([]byte, JoinCodeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		code[i] = joinCodeCharset[n.Int64()]
	}
	return string(code)
}

// validateRubricIDs rejects rubrics with duplicate item ids.
func validateRubricIDs(rubric Rubric) error {
	seen := make(map[string]struct{}, len(rubric))
	for _, it := range rubric {
		if _, ok := seen[it.ID]; ok {
			return core.NewValidationError(nil, core.FieldError{Field: "rubric", Error: dupRubricIDText + ": " + it.ID})
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}
