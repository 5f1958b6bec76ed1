package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts tokens with an OpenAI BPE encoding. It is more precise than
// Chars but loads its ranks on construction, which may hit the network the
// first time an encoding is used on a machine.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (DefaultEncoding when empty).
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %s: %w", encoding, err)
	}

	return &Tiktoken{enc: enc}, nil
}

// Estimate implements Estimator.
func (t *Tiktoken) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
