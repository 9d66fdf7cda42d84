// Package provenance attaches an immutable audit record to computed artifacts.
// A record identifies the run, the stage, the resolved options and the input matrix
// by content hash, so results stay traceable without copying the raw data around.
package provenance

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// Record describes how an artifact was produced.
type Record struct {
	RunID       string    `json:"run_id" msgpack:"run_id"`
	Stage       string    `json:"stage" msgpack:"stage"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
	OptionsHash string    `json:"options_hash" msgpack:"options_hash"`
	InputHash   string    `json:"input_hash" msgpack:"input_hash"`
	Rows        int       `json:"rows" msgpack:"rows"`
	Cols        int       `json:"cols" msgpack:"cols"`
}

// New builds a record for stage from the resolved options and the input matrix.
// Options are msgpack-encoded before hashing; fields tagged `msgpack:"-"` are ignored.
func New(stage string, opts any, input mat.Matrix) (Record, error) {
	optionsHash, err := HashOptions(opts)
	if err != nil {
		return Record{}, fmt.Errorf("failed to hash %s options: %w", stage, err)
	}

	rec := Record{
		RunID:       uuid.NewString(),
		Stage:       stage,
		CreatedAt:   time.Now().UTC(),
		OptionsHash: optionsHash,
	}
	if input != nil {
		rec.Rows, rec.Cols = input.Dims()
		rec.InputHash = HashMatrix(input)
	}
	return rec, nil
}

// HashOptions returns a deterministic hash of any msgpack-encodable value.
func HashOptions(opts any) (string, error) {
	enc, err := msgpack.Marshal(opts)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(enc)
	return hex.EncodeToString(h[:16]), nil
}

// HashMatrix hashes the shape and the IEEE-754 bits of every element, row-major.
func HashMatrix(m mat.Matrix) string {
	r, c := m.Dims()
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(c))
	h.Write(buf[:])
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(m.At(i, j)))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
