package server

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"romap-gateway/apierr"
	"romap-gateway/mapcache"
	"romap-gateway/requestlog"
	"romap-gateway/response"
)

var requiredMapParams = []string{"lat", "lon", "zoom", "width", "height"}

// mapQuery é a forma já convertida da query de /map.
type mapQuery struct {
	Lat     float64 `validate:"gte=-90,lte=90"`
	Lon     float64 `validate:"gte=-180,lte=180"`
	Zoom    int     `validate:"gte=1,lte=18"`
	Width   int     `validate:"gte=50,lte=2000"`
	Height  int     `validate:"gte=50,lte=2000"`
	MapType string  `validate:"omitempty,max=32,alphanum"`
}

var fieldErrors = map[string]*apierr.Error{
	"lat":     apierr.Validation("Invalid latitude. Must be between -90 and 90.", "lat"),
	"lon":     apierr.Validation("Invalid longitude. Must be between -180 and 180.", "lon"),
	"zoom":    apierr.Validation("Invalid zoom. Must be between 1 and 18.", "zoom"),
	"width":   apierr.Validation("Invalid width. Must be between 50 and 2000.", "width"),
	"height":  apierr.Validation("Invalid height. Must be between 50 and 2000.", "height"),
	"maptype": apierr.Validation("Invalid maptype. Must be at most 32 letters or digits.", "maptype"),
}

var structField = map[string]string{
	"Lat": "lat", "Lon": "lon", "Zoom": "zoom", "Width": "width", "Height": "height", "MapType": "maptype",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseMapParams valida a query na ordem lat, lon, zoom, width, height e
// devolve o primeiro problema encontrado.
func parseMapParams(q url.Values) (mapcache.Params, error) {
	var missing bool
	for _, name := range requiredMapParams {
		if strings.TrimSpace(q.Get(name)) == "" {
			missing = true
			break
		}
	}
	if missing {
		return mapcache.Params{}, apierr.Validation("Missing required parameters", "").
			With("required", requiredMapParams).
			With("received", received(q))
	}

	var mq mapQuery
	var ok bool
	if mq.Lat, ok = parseCoord(q.Get("lat")); !ok {
		return mapcache.Params{}, fieldErrors["lat"]
	}
	if mq.Lon, ok = parseCoord(q.Get("lon")); !ok {
		return mapcache.Params{}, fieldErrors["lon"]
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{{"zoom", &mq.Zoom}, {"width", &mq.Width}, {"height", &mq.Height}} {
		n, err := strconv.Atoi(strings.TrimSpace(q.Get(f.name)))
		if err != nil {
			return mapcache.Params{}, fieldErrors[f.name]
		}
		*f.dst = n
	}
	mq.MapType = strings.TrimSpace(q.Get("maptype"))

	if err := validate.Struct(mq); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return mapcache.Params{}, fieldErrors[structField[verrs[0].StructField()]]
		}
		return mapcache.Params{}, err
	}

	return mapcache.Params{
		Lat:     mq.Lat,
		Lon:     mq.Lon,
		Zoom:    mq.Zoom,
		Width:   mq.Width,
		Height:  mq.Height,
		MapType: mq.MapType,
	}, nil
}

func parseCoord(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// received ecoa a query recebida, sem o valor de apikey.
func received(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	if _, ok := out["apikey"]; ok {
		out["apikey"] = "REDACTED"
	}
	return out
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	p, err := parseMapParams(r.URL.Query())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	img, hit, err := s.opts.Renderer.Render(r.Context(), p)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	cache := "MISS"
	if hit {
		cache = "HIT"
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set(requestlog.HeaderCache, cache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(s.started).Seconds(),
		"timestamp": now.UTC().Format(time.RFC3339Nano),
	})
}

const homePage = `<!doctype html>
<html>
<head><title>RoMap API</title></head>
<body>
<h1>RoMap API</h1>
<p>Map images with RoMap branding.</p>
<h2>GET /map</h2>
<p>Send your key in the <code>X-API-Key</code> header or as the <code>apikey</code> query parameter.</p>
<ul>
<li><b>lat</b> (required): latitude, -90 to 90</li>
<li><b>lon</b> (required): longitude, -180 to 180</li>
<li><b>zoom</b> (required): 1 to 18</li>
<li><b>width</b>, <b>height</b> (required): 50 to 2000 pixels</li>
<li><b>maptype</b> (optional)</li>
</ul>
<p>Each key may make a fixed number of requests per UTC day. Responses carry
<code>X-RateLimit-Limit</code>, <code>X-RateLimit-Remaining</code> and <code>X-RateLimit-Reset</code>.</p>
<pre>GET /map?lat=40.7128&amp;lon=-74.0060&amp;zoom=14&amp;width=600&amp;height=400</pre>
<h2>GET /health</h2>
<p>Service status.</p>
</body>
</html>
`

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(homePage))
}
