package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/resilience"
)

// ErrNoRecording is returned in replay mode when a prompt was never recorded.
var ErrNoRecording = eris.New("llm: no recording for prompt")

// Recording is one stored exchange.
type Recording struct {
	Key   string     `json:"key"`
	Tag   string     `json:"tag,omitempty"`
	Model string     `json:"model"`
	Text  string     `json:"text"`
	Usage cost.Usage `json:"usage"`
}

// Key identifies a prompt: the hex SHA-256 of model, system and prompt.
func Key(model string, req Request) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// Tape is a directory of recordings, one <key>.json file per prompt.
type Tape struct {
	Dir string
}

func (t Tape) path(key string) string {
	return filepath.Join(t.Dir, key+".json")
}

// Load reads the recording for key. A missing file is a permanent error
// wrapping ErrNoRecording.
func (t Tape) Load(key string) (*Recording, error) {
	data, err := os.ReadFile(t.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, resilience.NewPermanentError(eris.Wrapf(ErrNoRecording, "key %s", key), 0)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "llm: read recording %s", key)
	}
	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "llm: decode recording %s", key)
	}
	return &rec, nil
}

// Save writes rec atomically.
func (t Tape) Save(rec Recording) error {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return eris.Wrap(err, "llm: create record dir")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrap(err, "llm: encode recording")
	}
	tmp, err := os.CreateTemp(t.Dir, rec.Key+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "llm: create recording")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrap(err, "llm: write recording")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "llm: close recording")
	}
	return eris.Wrap(os.Rename(tmp.Name(), t.path(rec.Key)), "llm: commit recording")
}
