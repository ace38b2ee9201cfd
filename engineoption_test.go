package procman

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/procman/procman/dispatch"
	"github.com/procman/procman/instance"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/security"
	"github.com/prometheus/client_golang/prometheus"
)

var _ = Describe("func WithLogger()", func() {
	It("sets the logger", func() {
		l := &logging.BufferedLogger{}

		opts := resolveEngineOptions(
			WithLogger(l),
		)

		Expect(opts.Logger).To(BeIdenticalTo(l))
	})

	It("uses the default if the logger is nil", func() {
		opts := resolveEngineOptions(
			WithLogger(nil),
		)

		Expect(opts.Logger).To(Equal(DefaultLogger))
	})
})

var _ = Describe("func WithPermissions()", func() {
	It("sets the security provider", func() {
		p := &security.Policy{AdminRole: "<admin>"}

		opts := resolveEngineOptions(
			WithPermissions(p),
		)

		Expect(opts.Permissions).To(BeIdenticalTo(p))
	})

	It("uses the default if the provider is nil", func() {
		opts := resolveEngineOptions(
			WithPermissions(nil),
		)

		Expect(opts.Permissions).To(Equal(DefaultPermissions))
	})
})

var _ = Describe("func WithDispatcher()", func() {
	It("sets the dispatcher", func() {
		d := dispatch.Func(
			func(context.Context, dispatch.Task) (dispatch.Acceptance, error) {
				return dispatch.Accepted, nil
			},
		)

		opts := resolveEngineOptions(
			WithDispatcher(d),
		)

		a, err := opts.Dispatcher.Dispatch(context.Background(), dispatch.Task{})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(a).To(Equal(dispatch.Accepted))
	})

	It("uses the default if the dispatcher is nil", func() {
		opts := resolveEngineOptions(
			WithDispatcher(nil),
		)

		a, err := opts.Dispatcher.Dispatch(context.Background(), dispatch.Task{})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(a).To(Equal(dispatch.Deferred))
	})
})

var _ = Describe("func WithMarshaler()", func() {
	It("sets the marshaler", func() {
		m := &codec.Marshaler{}

		opts := resolveEngineOptions(
			WithMarshaler(m),
		)

		Expect(opts.Marshaler).To(BeIdenticalTo(m))
	})

	It("constructs a default if the marshaler is nil", func() {
		opts := resolveEngineOptions(
			WithMarshaler(nil),
		)

		Expect(opts.Marshaler).To(Equal(NewDefaultMarshaler()))
	})
})

var _ = Describe("func WithPayloadCodec()", func() {
	It("sets the codec", func() {
		c := payload.YAMLCodec{}

		opts := resolveEngineOptions(
			WithPayloadCodec(c),
		)

		Expect(opts.PayloadCodec).To(Equal(c))
	})

	It("uses the default if the codec is nil", func() {
		opts := resolveEngineOptions(
			WithPayloadCodec(nil),
		)

		Expect(opts.PayloadCodec).To(Equal(DefaultPayloadCodec))
	})
})

var _ = Describe("func WithCacheSize()", func() {
	It("sets the cache size", func() {
		opts := resolveEngineOptions(
			WithCacheSize(10),
		)

		Expect(opts.CacheSize).To(Equal(10))
	})

	It("uses the default if the size is zero", func() {
		opts := resolveEngineOptions(
			WithCacheSize(0),
		)

		Expect(opts.CacheSize).To(Equal(DefaultCacheSize))
	})

	It("panics if the size is negative", func() {
		Expect(func() {
			WithCacheSize(-1)
		}).To(Panic())
	})
})

var _ = Describe("func WithDispatchConcurrency()", func() {
	It("sets the concurrency", func() {
		opts := resolveEngineOptions(
			WithDispatchConcurrency(3),
		)

		Expect(opts.DispatchConcurrency).To(BeEquivalentTo(3))
	})

	It("uses the default if the concurrency is zero", func() {
		opts := resolveEngineOptions(
			WithDispatchConcurrency(0),
		)

		Expect(opts.DispatchConcurrency).To(Equal(DefaultDispatchConcurrency))
	})
})

var _ = Describe("func WithFinishedInstanceRetention()", func() {
	It("sets the retention flag", func() {
		opts := resolveEngineOptions(
			WithFinishedInstanceRetention(true),
		)

		Expect(opts.RetainFinished).To(BeTrue())
	})

	It("does not retain finished instances by default", func() {
		opts := resolveEngineOptions()

		Expect(opts.RetainFinished).To(BeFalse())
	})
})

var _ = Describe("func WithMetrics()", func() {
	It("registers the engine's collectors", func() {
		reg := prometheus.NewRegistry()

		opts := resolveEngineOptions(
			WithMetrics(reg),
		)

		Expect(opts.Metrics).NotTo(BeNil())
	})

	It("records no metrics by default", func() {
		opts := resolveEngineOptions()

		Expect(opts.Metrics).To(BeNil())
	})

	It("panics if the registerer is nil", func() {
		Expect(func() {
			WithMetrics(nil)
		}).To(Panic())
	})
})

var _ = Describe("func WithTickleBackoff()", func() {
	It("sets the backoff strategy", func() {
		opts := resolveEngineOptions(
			WithTickleBackoff(backoff.Constant(10 * time.Second)),
		)

		Expect(opts.TickleBackoff(nil, 1)).To(Equal(10 * time.Second))
	})

	It("uses the default if the strategy is nil", func() {
		opts := resolveEngineOptions(
			WithTickleBackoff(nil),
		)

		Expect(opts.TickleBackoff).ToNot(BeNil())
	})
})

var _ = Describe("func NewDefaultMarshaler()", func() {
	It("marshals process instances as JSON", func() {
		m := NewDefaultMarshaler()

		pkt, err := m.Marshal(&instance.ProcessInstance{Name: "<instance>"})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(pkt.MediaType).To(HavePrefix("application/json"))
	})

	It("does not marshal unregistered types", func() {
		m := NewDefaultMarshaler()

		_, err := m.Marshal(&json.Codec{})
		Expect(err).To(HaveOccurred())
	})
})
