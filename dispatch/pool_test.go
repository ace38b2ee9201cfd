package dispatch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/procman/procman/dispatch"
)

var _ = Describe("type Pool", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		logger *logging.BufferedLogger
		pool   *Pool
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		logger = &logging.BufferedLogger{}

		pool = &Pool{
			Dispatcher: Func(func(_ context.Context, t Task) (Acceptance, error) {
				switch t.NodeID {
				case "<accept>":
					return Accepted, nil
				case "<reject>":
					return Rejected, nil
				case "<error>":
					return Accepted, errors.New("<dispatch error>")
				default:
					return Deferred, nil
				}
			}),
			Logger: logger,
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Dispatch()", func() {
		It("returns the outcomes in the same order as the tasks", func() {
			tasks := []Task{
				{Instance: 1, Node: 2, NodeID: "<accept>", Endpoint: "<endpoint>"},
				{Instance: 1, Node: 3, NodeID: "<reject>", Endpoint: "<endpoint>"},
				{Instance: 1, Node: 4, NodeID: "<defer>", Endpoint: "<endpoint>"},
			}

			outcomes, err := pool.Dispatch(ctx, tasks)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(outcomes).To(Equal([]Outcome{
				{Task: tasks[0], Acceptance: Accepted},
				{Task: tasks[1], Acceptance: Rejected},
				{Task: tasks[2], Acceptance: Deferred},
			}))
		})

		It("defers tasks whose dispatcher fails", func() {
			t := Task{Instance: 1, Node: 2, NodeID: "<error>", Endpoint: "<endpoint>"}

			outcomes, err := pool.Dispatch(ctx, []Task{t})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].Acceptance).To(Equal(Deferred))
			Expect(outcomes[0].Err).To(MatchError("<dispatch error>"))

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "≡ #1  ⋲ #2  △ ✖  <error> ● <endpoint> ● <dispatch error>",
				},
			))
		})

		It("logs the outcome of each task", func() {
			t := Task{Instance: 1, Node: 2, NodeID: "<accept>", Endpoint: "<endpoint>"}

			_, err := pool.Dispatch(ctx, []Task{t})
			Expect(err).ShouldNot(HaveOccurred())

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "≡ #1  ⋲ #2  ▲    <accept> ● <endpoint> ● accepted",
				},
			))
		})

		It("limits the number of concurrent dispatches", func() {
			var active, peak int32

			pool.Semaphore = NewSemaphore(2)
			pool.Dispatcher = Func(func(context.Context, Task) (Acceptance, error) {
				n := atomic.AddInt32(&active, 1)
				defer atomic.AddInt32(&active, -1)

				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}

				time.Sleep(5 * time.Millisecond)
				return Accepted, nil
			})

			tasks := make([]Task, 10)
			outcomes, err := pool.Dispatch(ctx, tasks)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(outcomes).To(HaveLen(10))
			Expect(atomic.LoadInt32(&peak)).To(BeNumerically("<=", 2))
		})

		It("applies the timeout to each dispatch", func() {
			pool.Timeout = 5 * time.Millisecond
			pool.Dispatcher = Func(func(ctx context.Context, _ Task) (Acceptance, error) {
				<-ctx.Done()
				return Deferred, ctx.Err()
			})

			outcomes, err := pool.Dispatch(ctx, []Task{{}})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(outcomes[0].Acceptance).To(Equal(Deferred))
			Expect(outcomes[0].Err).To(Equal(context.DeadlineExceeded))
		})

		It("returns an error if the context is canceled", func() {
			var calls int32
			pool.Dispatcher = Func(func(context.Context, Task) (Acceptance, error) {
				atomic.AddInt32(&calls, 1)
				return Accepted, nil
			})

			cancel()

			_, err := pool.Dispatch(ctx, []Task{{}, {}})
			Expect(err).To(Equal(context.Canceled))
			Expect(atomic.LoadInt32(&calls)).To(BeZero())
		})
	})
})

var _ = Describe("type Semaphore", func() {
	It("imposes no limit when it is the zero-value", func() {
		var s Semaphore
		Expect(s.Limit()).To(Equal(0))
		Expect(s.Acquire(context.Background())).To(Succeed())
		s.Release()
	})

	It("reports its limit", func() {
		s := NewSemaphore(3)
		Expect(s.Limit()).To(Equal(3))
	})
})

var _ = Describe("var Defer", func() {
	It("defers every task", func() {
		a, err := Defer.Dispatch(context.Background(), Task{})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(a).To(Equal(Deferred))
	})
})
