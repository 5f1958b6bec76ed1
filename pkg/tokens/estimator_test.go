package tokens_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/tokens"
)

var _ = Describe("Chars", func() {
	var est tokens.Chars

	BeforeEach(func() {
		est = tokens.NewChars()
	})

	It("returns zero for empty text", func() {
		Expect(est.Estimate("")).To(Equal(0))
	})

	It("rounds partial tokens up", func() {
		Expect(est.Estimate("a")).To(Equal(1))
		Expect(est.Estimate("abcd")).To(Equal(1))
		Expect(est.Estimate("abcde")).To(Equal(2))
	})

	It("counts runes rather than bytes", func() {
		Expect(est.Estimate("ééééé")).To(Equal(2))
	})

	It("is monotonic in input length", func() {
		prev := 0
		for i := range 200 {
			n := est.Estimate(strings.Repeat("x", i))
			Expect(n).To(BeNumerically(">=", prev))
			prev = n
		}
	})

	It("falls back to the default divisor when unset", func() {
		Expect(tokens.Chars{}.Estimate("abcdefgh")).To(Equal(2))
	})

	It("honours a custom divisor", func() {
		Expect(tokens.Chars{CharsPerToken: 1}.Estimate("abc")).To(Equal(3))
	})
})

var _ = Describe("EstimateAll", func() {
	It("sums estimates", func() {
		Expect(tokens.EstimateAll(tokens.NewChars(), "abcd", "abcdefgh", "")).To(Equal(3))
	})
})

var _ = Describe("New", func() {
	It("defaults to the character heuristic", func() {
		est, err := tokens.New("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(est).To(BeAssignableToTypeOf(tokens.Chars{}))
	})

	It("rejects unknown providers", func() {
		_, err := tokens.New("words", "")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown tokenizer provider"))
	})
})
