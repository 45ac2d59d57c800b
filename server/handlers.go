package server

import (
	"encoding/json"
	"image"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/api"
	"github.com/nvr-ai/dentalogic/assessment"
	"github.com/nvr-ai/dentalogic/history"
	"github.com/nvr-ai/dentalogic/images"
	"github.com/nvr-ai/dentalogic/inference"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/models"
)

// Profiler operation names recorded by the handlers.
const (
	OpRequest  = "http_predict"
	OpDecode   = "decode"
	OpAnnotate = "annotate"
)

// Error details returned to clients. The mobile client shows them verbatim.
const (
	detailNotImage      = "File harus berupa gambar (JPEG, PNG, dll)"
	detailMissingFile   = "File gambar tidak ditemukan pada field 'file'"
	detailTooLarge      = "Ukuran file terlalu besar"
	detailBadForm       = "Gagal membaca form upload"
	detailReadImage     = "Gagal membaca gambar: "
	detailPredict       = "Gagal menjalankan prediksi: "
	detailHistoryLimit  = "Parameter limit harus berupa bilangan bulat positif"
	detailHistoryAbsent = "Riwayat tidak ditemukan"
)

// uploadMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const uploadMemory = 8 << 20

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.StatusResponse{
		Status:      api.StatusOK,
		Message:     ServiceName,
		ModelLoaded: s.models.Loaded(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := api.HealthResponse{
		Status:      api.StatusHealthy,
		ModelLoaded: s.models.Loaded(),
	}
	if s.opts.ModelPath != "" {
		if _, err := os.Stat(s.opts.ModelPath); err == nil {
			path := s.opts.ModelPath
			resp.ModelPath = &path
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	defer s.profiler.Track(OpRequest)()

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, detailTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, detailBadForm+": "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, detailMissingFile)
		return
	}
	defer file.Close()

	if !images.IsImageContentType(header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, detailNotImage)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, detailReadImage+err.Error())
		return
	}

	stop := s.profiler.Track(OpDecode)
	img, format, err := images.DecodeLimit(data, s.opts.Server.MaxImagePixels)
	stop()
	if errors.Is(err, images.ErrTooManyPixels) {
		writeError(w, http.StatusRequestEntityTooLarge, detailTooLarge+": "+err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, detailReadImage+err.Error())
		return
	}

	predictor, err := s.models.Get(r.Context())
	if err != nil {
		s.logger.Error("model unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, detailPredict+err.Error())
		return
	}

	pred, err := predictor.Predict(r.Context(), img)
	if err != nil {
		s.logger.Error("prediction failed", "file", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, detailPredict+err.Error())
		return
	}

	labels := make([]string, len(pred.Detections))
	for i, d := range pred.Detections {
		labels[i] = d.Class
	}
	summary := assessment.Summarize(predictor.Classes(), labels, pred.Class)
	resp := api.NewPredictionResponse(pred, summary)

	if s.opts.Annotation.Enabled {
		stop := s.profiler.Track(OpAnnotate)
		resp.AnnotatedImage, err = s.annotate(img, pred.Detections)
		stop()
		if err != nil {
			s.logger.Warn("annotation failed", "error", err)
		}
	}

	entry := s.history.Add(history.Entry{
		FileName:      header.Filename,
		Class:         pred.Class,
		Confidence:    pred.Confidence,
		RiskLevel:     summary.RiskLevel,
		Counts:        summary.Counts,
		Detections:    len(pred.Detections),
		InferenceTime: pred.InferenceTime,
	})
	resp.ID = entry.ID

	s.logger.Info("prediction",
		"id", entry.ID,
		"file", header.Filename,
		"format", format,
		"size", len(data),
		"class", pred.Class,
		"confidence", resp.Confidence,
		"detections", len(pred.Detections),
		"risk", summary.RiskLevel,
		"ms", pred.InferenceTime)

	writeJSON(w, http.StatusOK, resp)
}

// annotate burns the detections into a JPEG data URL. Without detections
// the plain image is encoded.
func (s *Server) annotate(img image.Image, dets []detectors.Detection) (string, error) {
	boxes := make([]images.Box, len(dets))
	for i, d := range dets {
		boxes[i] = images.Box{
			Rect:  d.Box,
			Label: d.Class + " " + strconv.FormatFloat(float64(d.Confidence), 'f', 1, 32) + "%",
			Color: models.ClassColor(d.Class),
		}
	}
	opts := images.DefaultAnnotateOptions()
	opts.LineWidth = s.opts.Annotation.LineWidth
	annotated := images.Annotate(img, boxes, opts)
	return images.EncodeDataURL(annotated, images.FormatJPEG, s.opts.Annotation.Quality)
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, detailHistoryLimit)
			return
		}
		limit = n
	}

	entries := s.history.List(limit)
	resp := api.HistoryResponse{
		Entries: make([]api.HistoryEntry, len(entries)),
		Total:   s.history.Len(),
	}
	for i, e := range entries {
		resp.Entries[i] = api.NewHistoryEntry(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.history.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewHistoryEntry(e))
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.history.Delete(id); err != nil {
		s.writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: id})
}

func (s *Server) writeHistoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, detailHistoryAbsent)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// sessionStatser is implemented by predictors backed by a session that keeps
// run counters.
type sessionStatser interface {
	SessionStats() (inference.SessionStats, bool)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := api.MetricsResponse{
		ModelLoaded:     s.models.Loaded(),
		HistoryEntries:  s.history.Len(),
		HistoryCapacity: s.history.Capacity(),
		Runtime:         s.profiler.Snapshot(),
	}
	// Only a loaded model is asked; /metrics never triggers a load.
	if resp.ModelLoaded {
		if p, err := s.models.Get(r.Context()); err == nil {
			if st, ok := p.(sessionStatser); ok {
				if stats, ok := st.SessionStats(); ok {
					resp.Session = &stats
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, api.ErrorResponse{Detail: detail})
}
