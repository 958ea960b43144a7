package monitoring

import (
	"encoding/json"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/graphmem/gam/gam"
)

type passthroughGNN struct{}

func (passthroughGNN) Apply(
	nodes gam.Matrix,
	edges gam.EdgeList,
	weights []float64,
) (gam.Matrix, error) {
	return nodes.Clone(), nil
}

var _ = Describe("Monitor", func() {
	var m *Monitor

	BeforeEach(func() {
		m = NewMonitor()
	})

	It("should register engines", func() {
		m.RegisterEngine(gam.NewEngine("Mem", 8, passthroughGNN{}))

		Expect(m.engines).To(HaveLen(1))
	})

	It("should list registered engines", func() {
		m.RegisterEngine(gam.NewEngine("MemA", 8, passthroughGNN{}))
		m.RegisterEngine(gam.NewEngine("MemB", 8, passthroughGNN{}))

		rec := httptest.NewRecorder()
		m.listEngines(rec, nil)

		Expect(rec.Body.String()).To(Equal(`["MemA","MemB"]`))
	})

	It("should track and forget states", func() {
		s := gam.NewState(2, 8, 3)
		m.TrackState("seq-1", s)

		Expect(m.states).To(HaveKey("seq-1"))

		m.ForgetState("seq-1")
		Expect(m.states).ToNot(HaveKey("seq-1"))
	})

	It("should summarize a tracked state", func() {
		s := gam.NewState(2, 8, 3)
		s.T = []int{4, 1}
		s.Edges.Append(0, 1)
		m.TrackState("seq-1", s)

		req := httptest.NewRequest("GET", "/api/state/seq-1", nil)
		rec := httptest.NewRecorder()

		m.router().ServeHTTP(rec, req)

		var rsp stateRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Batch).To(Equal(2))
		Expect(rsp.Capacity).To(Equal(8))
		Expect(rsp.LiveNodes).To(Equal(5))
		Expect(rsp.Edges).To(Equal(1))
	})

	It("should 404 on unknown states", func() {
		req := httptest.NewRequest("GET", "/api/state/missing", nil)
		rec := httptest.NewRecorder()

		m.router().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(404))
	})

	It("should maintain progress bars", func() {
		bar := m.CreateProgressBar("demo", 10)
		bar.IncrementFinished(3)

		Expect(m.progressBars).To(HaveLen(1))
		Expect(bar.Finished).To(Equal(uint64(3)))

		m.CompleteProgressBar(bar)
		Expect(m.progressBars).To(BeEmpty())
	})
})
