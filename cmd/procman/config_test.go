package main

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func loadConfig()", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(content string) string {
		path := filepath.Join(dir, "procman.yaml")
		err := os.WriteFile(path, []byte(content), 0600)
		Expect(err).ShouldNot(HaveOccurred())
		return path
	}

	It("returns the defaults if no path is given", func() {
		cfg, err := loadConfig("")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg).To(Equal(defaultConfig()))
	})

	It("overrides the defaults with the content of the file", func() {
		path := write(`
store:
  kind: sqlite
  path: "file::memory:"
engine:
  cache_size: 10
  retain_finished: true
  tickle_backoff: 5s
metrics:
  enabled: true
models:
  - order.yaml
`)

		cfg, err := loadConfig(path)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg.Store.Kind).To(Equal("sqlite"))
		Expect(cfg.Store.Path).To(Equal("file::memory:"))
		Expect(cfg.Store.Name).To(Equal("procman"))
		Expect(cfg.Engine.CacheSize).To(Equal(10))
		Expect(cfg.Engine.RetainFinished).To(BeTrue())
		Expect(cfg.Engine.TickleBackoff).To(Equal(5 * time.Second))
		Expect(cfg.Metrics.Enabled).To(BeTrue())
		Expect(cfg.Metrics.Addr).To(Equal(":9090"))
		Expect(cfg.Models).To(ConsistOf("order.yaml"))
	})

	It("returns an error if the store kind is not supported", func() {
		path := write(`
store:
  kind: postgres
`)

		_, err := loadConfig(path)
		Expect(err).To(MatchError(`unsupported store kind: "postgres"`))
	})

	It("returns an error if the cache size is negative", func() {
		path := write(`
engine:
  cache_size: -1
`)

		_, err := loadConfig(path)
		Expect(err).To(HaveOccurred())
	})

	It("returns an error if the file does not exist", func() {
		_, err := loadConfig(filepath.Join(dir, "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
