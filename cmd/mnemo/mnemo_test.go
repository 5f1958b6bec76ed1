package mnemocmder_test

import (
	"bytes"
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	mnemocmder "github.com/papercomputeco/mnemo/cmd/mnemo"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

var _ = Describe("NewMnemoCmd", func() {
	It("registers every subcommand", func() {
		cmd := mnemocmder.NewMnemoCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("init", "append", "context", "facts", "tail", "serve", "config", "version"))
	})
})

var _ = Describe("mnemo end to end", func() {
	var configDir string

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
	})

	execute := func(stdin string, args ...string) (string, error) {
		var out, errOut bytes.Buffer
		cmd := mnemocmder.NewMnemoCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetArgs(append(args, "--config-dir", configDir))
		err := cmd.Execute()
		return out.String(), err
	}

	It("appends messages and assembles them into context", func() {
		_, err := execute("", "append", "--role", "user", "What", "did", "the", "Fed", "do?")
		Expect(err).NotTo(HaveOccurred())

		_, err = execute("They held rates.\n", "append", "--role", "assistant", "--model", "gpt-4o")
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("", "context", "--format", "json")
		Expect(err).NotTo(HaveOccurred())

		var w struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
				Model   string `json:"model"`
			} `json:"messages"`
			Truncated bool `json:"truncated"`
		}
		Expect(json.Unmarshal([]byte(out), &w)).To(Succeed())
		Expect(w.Messages).To(HaveLen(2))
		Expect(w.Messages[0].Content).To(Equal("What did the Fed do?"))
		Expect(w.Messages[1].Content).To(Equal("They held rates."))
		Expect(w.Messages[1].Model).To(Equal("gpt-4o"))
		Expect(w.Truncated).To(BeFalse())
	})

	It("honors --budget on context", func() {
		for _, size := range []string{"50", "60", "90"} {
			_, err := execute("", "append", "--role", "user", "--size", size, "msg")
			Expect(err).NotTo(HaveOccurred())
		}

		out, err := execute("", "context", "--format", "json", "--budget", "120", "--reserve", "0")
		Expect(err).NotTo(HaveOccurred())

		var w struct {
			Messages []struct {
				SizeEstimate int `json:"size_estimate"`
			} `json:"messages"`
		}
		Expect(json.Unmarshal([]byte(out), &w)).To(Succeed())
		Expect(w.Messages).To(HaveLen(1))
		Expect(w.Messages[0].SizeEstimate).To(Equal(90))
	})

	It("rejects an invalid role", func() {
		_, err := execute("", "append", "--role", "narrator", "hi")
		Expect(err).To(MatchError(ContainSubstring("invalid role")))
	})

	It("rejects an unknown format", func() {
		_, err := execute("", "context", "--format", "xml")
		Expect(err).To(MatchError(ContainSubstring("unknown format")))
	})

	It("adds, promotes and shows facts", func() {
		out, err := execute("", "facts", "add", "Fed", "holds", "rates", "--json")
		Expect(err).NotTo(HaveOccurred())

		var added memory.Result
		Expect(json.Unmarshal([]byte(out), &added)).To(Succeed())
		Expect(added.Success).To(BeTrue())
		id, ok := added.Details["id"].(string)
		Expect(ok).To(BeTrue())

		_, err = execute("", "facts", "promote", id, "--category", "macro", "--actor", "analyst")
		Expect(err).NotTo(HaveOccurred())

		out, err = execute("", "facts", "show", "--format", "yaml")
		Expect(err).NotTo(HaveOccurred())

		var doc struct {
			UpdatedBy string `yaml:"updated_by"`
			Core      struct {
				Items []struct {
					Content  string `yaml:"content"`
					Category string `yaml:"category"`
				} `yaml:"items"`
			} `yaml:"core"`
		}
		Expect(yaml.Unmarshal([]byte(out), &doc)).To(Succeed())
		Expect(doc.UpdatedBy).To(Equal("analyst"))
		Expect(doc.Core.Items).To(HaveLen(1))
		Expect(doc.Core.Items[0].Content).To(Equal("Fed holds rates"))
		Expect(doc.Core.Items[0].Category).To(Equal("macro"))
	})

	It("fails when promoting an unknown diff", func() {
		_, err := execute("", "facts", "promote", "diff-missing", "--category", "macro")
		Expect(err).To(HaveOccurred())
	})

	It("describes the inclusive prune floor", func() {
		out, err := execute("", "facts", "prune", "--help")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("at most facts.prune_reference_floor times"))
	})

	It("reports curation as not implemented", func() {
		out, err := execute("", "facts", "curate", "--json")
		Expect(err).To(HaveOccurred())

		var res memory.Result
		Expect(json.Unmarshal([]byte(out), &res)).To(Succeed())
		Expect(res.Kind).To(Equal(memory.KindNotImplemented))
	})

	It("lists and prints audit snapshots", func() {
		_, err := execute("", "facts", "seed", "User lives in Lisbon", "--category", "profile")
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("", "facts", "audit", "--format", "json")
		Expect(err).NotTo(HaveOccurred())

		var entries []memory.AuditEntry
		Expect(json.Unmarshal([]byte(out), &entries)).To(Succeed())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Action).To(Equal(memory.ActionSeedCore))

		out, err = execute("", "facts", "audit", entries[0].Name)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(`"items"`))
		Expect(out).NotTo(ContainSubstring("Lisbon"))
	})

	It("reads config set through the config command", func() {
		_, err := execute("", "config", "set", "context.budget", "100")
		Expect(err).NotTo(HaveOccurred())

		for _, size := range []string{"60", "60"} {
			_, err := execute("", "append", "--size", size, "msg")
			Expect(err).NotTo(HaveOccurred())
		}

		out, err := execute("", "context", "--format", "json", "--reserve", "0")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(`"budget": 100`))
		Expect(out).To(ContainSubstring(`"truncated": true`))
	})
})
