package cmd

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphmem/gam/gam"
	"github.com/graphmem/gam/monitoring"
	"github.com/graphmem/gam/recording"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a synthetic sequence through a graph memory engine.",
	Long: `demo feeds a random observation sequence through a memory engine ` +
		`built with example collaborators: a temporal edge selector, a ` +
		`sinusoidal positional encoder, and a tanh-saturated mean-pooling GNN. ` +
		`The run can be recorded into a SQLite trace and watched live over HTTP.`,
	Run: runDemo,
}

func init() {
	demoCmd.Flags().Int("batch", 2, "number of parallel sequences")
	demoCmd.Flags().Int("capacity", 32, "node capacity per sequence")
	demoCmd.Flags().Int("feats", 8, "feature width of each observation")
	demoCmd.Flags().Int("steps", 100, "number of engine steps to run")
	demoCmd.Flags().Int("chunk", 3, "maximum timesteps per step and sequence")
	demoCmd.Flags().Int("window", 2, "temporal edges per new node")
	demoCmd.Flags().Int64("seed", 1, "random seed")
	demoCmd.Flags().String("trace", "",
		"record the run into this SQLite trace (path without extension)")
	demoCmd.Flags().Bool("monitor", false, "serve a live monitor over HTTP")
	demoCmd.Flags().Int("port", 0,
		"monitor port (defaults to GAM_MONITOR_PORT or a random port)")
	demoCmd.Flags().Bool("open", false, "open the monitor in a browser")
	demoCmd.Flags().Duration("pause", 0, "pause between steps")

	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, _ []string) {
	batch, _ := cmd.Flags().GetInt("batch")
	capacity, _ := cmd.Flags().GetInt("capacity")
	feats, _ := cmd.Flags().GetInt("feats")
	steps, _ := cmd.Flags().GetInt("steps")
	chunk, _ := cmd.Flags().GetInt("chunk")
	window, _ := cmd.Flags().GetInt("window")
	seed, _ := cmd.Flags().GetInt64("seed")
	trace, _ := cmd.Flags().GetString("trace")
	serveMonitor, _ := cmd.Flags().GetBool("monitor")
	port, _ := cmd.Flags().GetInt("port")
	open, _ := cmd.Flags().GetBool("open")
	pause, _ := cmd.Flags().GetDuration("pause")

	engine := gam.NewEngine("DemoMem", capacity,
		tanhMeanGNN{}).
		WithEdgeSelector(temporalEdgeSelector{
			capacity: capacity,
			window:   window,
		}).
		WithPositionalEncoder(sinusoidalEncoder{}).
		WithEvictionPolicy(gam.SlideEviction{})

	var recorder recording.DataRecorder
	if trace == "" {
		trace = os.Getenv("GAM_TRACE_DB")
	}
	if trace != "" {
		recorder = recording.NewSQLiteWriter(trace)
		engine.AcceptHook(recording.NewStepLogger(recorder))
	}

	var monitor *monitoring.Monitor
	var bar *monitoring.ProgressBar
	if serveMonitor {
		if port == 0 {
			port, _ = strconv.Atoi(os.Getenv("GAM_MONITOR_PORT"))
		}

		monitor = monitoring.NewMonitor().WithPortNumber(port)
		monitor.RegisterEngine(engine)
		bar = monitor.CreateProgressBar("demo sequence", uint64(steps))

		if open {
			monitor.StartServerAndOpen()
		} else {
			monitor.StartServer()
		}
	}

	rng := rand.New(rand.NewSource(seed))

	var s *gam.State
	for step := 0; step < steps; step++ {
		x, taus := randomChunk(rng, batch, chunk, feats)

		var err error
		_, s, err = engine.Step(x, taus, s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "step %d failed: %s\n", step, err)
			os.Exit(1)
		}

		if monitor != nil {
			monitor.TrackState("demo", s)
			bar.IncrementFinished(1)
		}

		if pause > 0 {
			time.Sleep(pause)
		}
	}

	if recorder != nil {
		recorder.Flush()
	}

	fmt.Printf("ran %d steps: %d live nodes, %d edges\n",
		steps, s.LiveNodes(), s.Edges.Len())
}

func randomChunk(
	rng *rand.Rand,
	batch, chunk, feats int,
) (gam.Tensor3, []int) {
	taus := make([]int, batch)
	t := 1
	for b := range taus {
		taus[b] = rng.Intn(chunk + 1)
		if taus[b] > t {
			t = taus[b]
		}
	}

	x := gam.NewTensor3(batch, t, feats)
	for b := range taus {
		for i := 0; i < taus[b]; i++ {
			row := x.Row(b, i)
			for k := range row {
				row[k] = rng.NormFloat64()
			}
		}
	}

	return x, taus
}

// tanhMeanGNN pools each node with the mean of its direct predecessors and
// saturates with tanh, which keeps the memory output finite.
type tanhMeanGNN struct{}

func (tanhMeanGNN) Apply(
	nodes gam.Matrix,
	edges gam.EdgeList,
	weights []float64,
) (gam.Matrix, error) {
	out := nodes.Clone()
	counts := make([]int, nodes.Rows)

	for i := 0; i < edges.Len(); i++ {
		dst := out.Row(edges.Dst[i])
		src := nodes.Row(edges.Src[i])

		w := 1.0
		if len(weights) == edges.Len() {
			w = weights[i]
		}

		for k := range dst {
			dst[k] += w * src[k]
		}
		counts[edges.Dst[i]]++
	}

	for r := 0; r < out.Rows; r++ {
		row := out.Row(r)
		for k := range row {
			row[k] = math.Tanh(row[k] / float64(counts[r]+1))
		}
	}

	return out, nil
}

// temporalEdgeSelector links every new node to up to window immediate
// predecessors in its own sequence.
type temporalEdgeSelector struct {
	capacity int
	window   int
}

func (s temporalEdgeSelector) SelectEdges(
	nodes gam.Tensor3,
	edges gam.EdgeList,
	weights []float64,
	T, taus []int,
) (gam.EdgeList, []float64, error) {
	out := edges.Clone()
	w := append([]float64(nil), weights...)
	weighted := len(weights) == edges.Len() && edges.Len() > 0

	for b := range taus {
		for i := 0; i < taus[b]; i++ {
			slot := T[b] + i
			for back := 1; back <= s.window && slot-back >= 0; back++ {
				out.Append(
					b*s.capacity+slot-back,
					b*s.capacity+slot)
				if weighted {
					w = append(w, 1.0/float64(back))
				}
			}
		}
	}

	return out, w, nil
}

// sinusoidalEncoder adds transformer-style sin/cos positional encoding so
// the GNN can tell the temporal order of otherwise unordered graph nodes.
type sinusoidalEncoder struct{}

func (sinusoidalEncoder) Transform(nodes gam.Tensor3) (gam.Tensor3, error) {
	out := nodes.Clone()

	for b := 0; b < out.D0; b++ {
		for slot := 0; slot < out.D1; slot++ {
			row := out.Row(b, slot)
			for k := range row {
				angle := float64(slot) /
					math.Pow(10000, float64(k)/float64(len(row)))
				if k%2 == 0 {
					row[k] += math.Sin(angle)
				} else {
					row[k] += math.Cos(angle)
				}
			}
		}
	}

	return out, nil
}
