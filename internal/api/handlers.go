package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/export"
	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/metrics"
	"github.com/warpaintvision/shopsite/internal/planar"
)

// pointTypes are the tag keys accepted by /geodb/points?type=.
var pointTypes = []string{"shop", "amenity"}

// pointRoles are the roles listed by /geodb/points.
var pointRoles = []layer.Role{layer.RoleAnchors, layer.RoleCompetitors}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CacheKey returns the response cache key of an area's suitability result.
func CacheKey(area string) string { return "suitability:" + area }

// area resolves ?area, writing a 400 when it names no configured area.
func (s *Server) area(w http.ResponseWriter, r *http.Request) (string, layer.BBox, bool) {
	name := r.URL.Query().Get("area")
	if name == "" {
		name = s.defaultArea
	}
	bbox, ok := s.areas[name]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"Unknown area '%s'. Known areas: %s", name, quotedList(s.areaNames())))
		return name, layer.BBox{}, false
	}
	return name, bbox, true
}

func (s *Server) areaNames() []string {
	names := make([]string, 0, len(s.areas))
	for n := range s.areas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Server) load(ctx context.Context, w http.ResponseWriter, name string, bbox layer.BBox) (layer.Layers, bool) {
	ls, err := s.source.Load(ctx, bbox)
	if err != nil {
		zap.L().Error("api: load layers", zap.String("area", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load layers")
		return nil, false
	}
	return ls, true
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, value := q.Get("type"), q.Get("value")

	filter := export.ListFilter{Roles: pointRoles, Limit: s.limit}
	if typ != "" && value != "" {
		if !contains(pointTypes, typ) {
			writeError(w, http.StatusBadRequest, "Type must be 'shop' or 'amenity'")
			return
		}
		allowed := s.filter.Allowed(typ)
		if !contains(allowed, value) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf(
				"Value '%s' not allowed for type '%s'. Allowed values: %s", value, typ, quotedList(allowed)))
			return
		}
		filter.Key, filter.Value = typ, value
	}

	s.listing(w, r, filter)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.listing(w, r, export.ListFilter{Limit: s.limit})
}

func (s *Server) listing(w http.ResponseWriter, r *http.Request, filter export.ListFilter) {
	name, bbox, ok := s.area(w, r)
	if !ok {
		return
	}
	ls, ok := s.load(r.Context(), w, name, bbox)
	if !ok {
		return
	}
	fc, err := export.ListFeatures(ls, filter, export.Options{Projection: s.proj})
	if err != nil {
		zap.L().Error("api: render listing", zap.String("area", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render features")
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleArea(w http.ResponseWriter, r *http.Request) {
	name, bbox, ok := s.area(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "geojson" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "Format must be 'geojson' or 'xlsx'")
		return
	}
	cacheable := s.cache != nil && format != "xlsx"

	if cacheable {
		if data, ok := s.cache.Get(r.Context(), CacheKey(name)); ok {
			metrics.CacheHitsTotal.WithLabelValues("response").Inc()
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, "application/json", data)
			return
		}
		metrics.CacheMissesTotal.WithLabelValues("response").Inc()
		w.Header().Set("X-Cache", "MISS")
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	ls, ok := s.load(ctx, w, name, bbox)
	if !ok {
		return
	}
	res, err := s.engine.Compute(ctx, ls, s.cfg)
	if err != nil {
		s.computeError(w, name, err)
		return
	}

	opts := export.Options{Projection: s.proj}
	if format == "xlsx" {
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, res, opts); err != nil {
			zap.L().Error("api: render report", zap.String("area", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to render report")
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, name))
		writeRaw(w, http.StatusOK, xlsxContentType, buf.Bytes())
		return
	}

	fc, err := export.Ranked(res, opts)
	if err != nil {
		zap.L().Error("api: render result", zap.String("area", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render result")
		return
	}
	data, err := json.Marshal(fc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render result")
		return
	}
	if cacheable {
		s.cache.Put(r.Context(), CacheKey(name), data)
	}
	writeRaw(w, http.StatusOK, "application/json", data)
}

func (s *Server) computeError(w http.ResponseWriter, name string, err error) {
	log := zap.L().With(zap.String("area", name))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("api: suitability timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "suitability computation timed out")
	case errors.Is(err, context.Canceled):
		log.Info("api: suitability cancelled by client")
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case eris.Is(err, planar.ErrSubdivision):
		log.Error("api: subdivision failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "planar subdivision failed")
	default:
		log.Error("api: suitability failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "suitability computation failed")
	}
}

func contains(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

// quotedList formats vals as ['a', 'b'].
func quotedList(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
