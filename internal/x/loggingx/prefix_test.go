package loggingx_test

import (
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/procman/procman/internal/x/loggingx"
)

var _ = Describe("func WithPrefix()", func() {
	var target *logging.BufferedLogger

	BeforeEach(func() {
		target = &logging.BufferedLogger{CaptureDebug: true}
	})

	It("adds the prefix to log messages", func() {
		logger := WithPrefix(target, "instance %s: ", "#1")
		logger.Log("<format %d>", 1)
		logger.LogString("<string>")

		Expect(target.Messages()).To(Equal([]logging.BufferedLogMessage{
			{Message: "instance #1: <format 1>"},
			{Message: "instance #1: <string>"},
		}))
	})

	It("adds the prefix to debug messages", func() {
		logger := WithPrefix(target, "<prefix> ")
		logger.Debug("<format %d>", 1)
		logger.DebugString("<string>")

		Expect(target.Messages()).To(Equal([]logging.BufferedLogMessage{
			{Message: "<prefix> <format 1>", IsDebug: true},
			{Message: "<prefix> <string>", IsDebug: true},
		}))
	})

	It("does not interpret formatting verbs in the prefix", func() {
		logger := WithPrefix(target, "%s ", "100%")
		logger.Log("<format %d>", 1)

		Expect(target.Messages()).To(Equal([]logging.BufferedLogMessage{
			{Message: "100% <format 1>"},
		}))
	})

	It("combines nested prefixes", func() {
		logger := WithPrefix(WithPrefix(target, "<outer> "), "<inner> ")
		logger.LogString("<string>")

		Expect(target.Messages()).To(Equal([]logging.BufferedLogMessage{
			{Message: "<outer> <inner> <string>"},
		}))
	})
})
