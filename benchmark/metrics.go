package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/profiler"
)

// Sample is the outcome of predicting one image.
type Sample struct {
	File       string        `json:"file"`
	Duration   time.Duration `json:"duration"`
	Class      string        `json:"class,omitempty"`
	Confidence float32       `json:"confidence,omitempty"`
	Detections int           `json:"detections"`
	// Classes of every detection, in detection order.
	DetectionClasses []string `json:"detection_classes,omitempty"`
	Err              string   `json:"error,omitempty"`
}

// Failed reports whether the image could not be predicted.
func (s Sample) Failed() bool {
	return s.Err != ""
}

// MemoryMetrics captures memory usage over a run.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// PerformanceMetrics captures everything recorded during one run.
type PerformanceMetrics struct {
	Timestamp time.Time     `json:"timestamp"`
	Workers   int           `json:"workers"`
	Wall      time.Duration `json:"wall"`
	Samples   []Sample      `json:"samples"`
	Memory    MemoryMetrics `json:"memory"`
	// Process holds the OS view of this process when the run ended.
	Process profiler.ProcessStats `json:"process"`
}

// ClassTotal is a per-class count.
type ClassTotal struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Report summarizes a run.
type Report struct {
	Images          int           `json:"images"`
	Errors          int           `json:"errors"`
	ErrorRate       float64       `json:"error_rate"`
	MeanMs          float64       `json:"mean_ms"`
	P50Ms           float64       `json:"p50_ms"`
	P95Ms           float64       `json:"p95_ms"`
	MaxMs           float64       `json:"max_ms"`
	ImagesPerSecond float64       `json:"images_per_second"`
	WallMs          float64       `json:"wall_ms"`
	Detections      int           `json:"detections"`
	ClassDetections []ClassTotal  `json:"class_detections"`
	PredictedClass  []ClassTotal  `json:"predicted_class"`
	Memory          MemoryMetrics `json:"memory"`
}

// Report computes the summary of m. Latency figures only cover successful
// predictions; throughput counts every image over the wall time.
func (m *PerformanceMetrics) Report() Report {
	r := Report{
		Images: len(m.Samples),
		WallMs: ms(m.Wall),
		Memory: m.Memory,
	}

	var (
		durations []time.Duration
		total     time.Duration
		detected  = map[string]int{}
		predicted = map[string]int{}
	)
	for _, s := range m.Samples {
		if s.Failed() {
			r.Errors++
			continue
		}
		durations = append(durations, s.Duration)
		total += s.Duration
		r.Detections += s.Detections
		predicted[s.Class]++
		for _, c := range s.DetectionClasses {
			detected[c]++
		}
	}

	if r.Images > 0 {
		r.ErrorRate = float64(r.Errors) / float64(r.Images)
	}
	if len(durations) > 0 {
		r.MeanMs = ms(total) / float64(len(durations))
		r.P50Ms = ms(profiler.Percentile(durations, 0.50))
		r.P95Ms = ms(profiler.Percentile(durations, 0.95))
		r.MaxMs = ms(profiler.Percentile(durations, 1))
	}
	if m.Wall > 0 {
		r.ImagesPerSecond = float64(r.Images) / m.Wall.Seconds()
	}
	r.ClassDetections = totals(detected)
	r.PredictedClass = totals(predicted)
	return r
}

// totals sorts counts by count descending, then class name.
func totals(counts map[string]int) []ClassTotal {
	out := make([]ClassTotal, 0, len(counts))
	for c, n := range counts {
		out = append(out, ClassTotal{Class: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// WriteJSON writes the metrics and their report as indented JSON.
func (m *PerformanceMetrics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(struct {
		Report  Report              `json:"report"`
		Metrics *PerformanceMetrics `json:"metrics"`
	}{m.Report(), m})
	return errors.Wrap(err, "encoding benchmark results")
}

// WriteCSV writes one row per sample.
func (m *PerformanceMetrics) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "duration_ms", "class", "confidence", "detections", "error"}); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, s := range m.Samples {
		row := []string{
			s.File,
			strconv.FormatFloat(ms(s.Duration), 'f', 2, 64),
			s.Class,
			strconv.FormatFloat(float64(s.Confidence), 'f', 2, 32),
			strconv.Itoa(s.Detections),
			s.Err,
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
