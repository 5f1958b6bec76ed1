package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/mnemo/cmd/mnemo/config"
	"github.com/papercomputeco/mnemo/pkg/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
	)

	BeforeEach(func() {
		var err error
		tmpDir = GinkgoT().TempDir()

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		// Create a local .mnemo dir so the manager picks it up
		Expect(os.MkdirAll(filepath.Join(tmpDir, ".mnemo"), 0o755)).To(Succeed())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
	})

	execute := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	loadSaved := func() *config.Config {
		data, err := os.ReadFile(filepath.Join(tmpDir, ".mnemo", "config.toml"))
		Expect(err).NotTo(HaveOccurred())
		cfg, err := config.ParseConfigTOML(data)
		Expect(err).NotTo(HaveOccurred())
		return cfg
	}

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			out, err := execute("set", "context.budget", "120000")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Set"))

			Expect(loadSaved().Context.Budget).To(Equal(120000))
		})

		It("keeps other values at their defaults", func() {
			_, err := execute("set", "lock.provider", "redis")
			Expect(err).NotTo(HaveOccurred())

			cfg := loadSaved()
			Expect(cfg.Lock.Provider).To(Equal("redis"))
			Expect(cfg.Facts.TokenCeiling).To(Equal(config.NewDefaultConfig().Facts.TokenCeiling))
		})

		It("rejects unknown keys", func() {
			_, err := execute("set", "invalid_key", "value")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("requires exactly two arguments", func() {
			_, err := execute("set", "context.budget")
			Expect(err).To(HaveOccurred())
		})

		It("rejects zero arguments", func() {
			_, err := execute("set")
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid int values", func() {
			_, err := execute("set", "facts.token_ceiling", "not-a-number")
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid durations", func() {
			_, err := execute("set", "lock.ttl", "soon")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			_, err := execute("set", "tokenizer.provider", "tiktoken")
			Expect(err).NotTo(HaveOccurred())

			out, err := execute("get", "tokenizer.provider")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("tiktoken"))
		})

		It("reports unset keys", func() {
			out, err := execute("get", "storage.postgres_dsn")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("<not set>"))
		})

		It("rejects unknown keys", func() {
			_, err := execute("get", "invalid_key")
			Expect(err).To(HaveOccurred())
		})

		It("requires exactly one argument", func() {
			_, err := execute("get")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key with defaults when the file is missing", func() {
			out, err := execute("list")
			Expect(err).NotTo(HaveOccurred())
			for _, key := range config.ValidConfigKeys() {
				Expect(out).To(ContainSubstring(key))
			}
			Expect(out).To(ContainSubstring(`"200000"`))
		})

		It("shows values from the config file", func() {
			_, err := execute("set", "api.listen", ":9999")
			Expect(err).NotTo(HaveOccurred())

			out, err := execute("list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Using config file"))
			Expect(out).To(ContainSubstring(`":9999"`))
		})

		It("rejects any arguments", func() {
			_, err := execute("list", "extra")
			Expect(err).To(HaveOccurred())
		})
	})
})
