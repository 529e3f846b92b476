package grid

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ctessum/cdf"
)

const (
	timeUnits  = "hours since 1900-01-01 00:00:00"
	floatFill  = float32(-9999)
	packedFill = int16(math.MinInt16 + 1)
)

var timeEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteOptions controls the on-disk layout of WriteNetCDF.
type WriteOptions struct {
	Variable string

	// Lon360 stores longitudes in [0, 360) and LatDescending stores
	// latitudes north to south, as reanalysis products do.
	Lon360        bool
	LatDescending bool

	// A non-zero Scale packs values as int16 with scale_factor and
	// add_offset attributes.
	Scale  float64
	Offset float64
}

// WriteNetCDF writes fields sharing the same axes to a NetCDF classic file,
// one time step per grid. Missing values are stored as _FillValue.
func WriteNetCDF(w *os.File, grids []*Grid, opts WriteOptions) error {
	if len(grids) == 0 {
		return fmt.Errorf("write netcdf: no grids")
	}
	if opts.Variable == "" {
		opts.Variable = DefaultVariable
	}
	base := grids[0]
	nt, nLat, nLon := len(grids), len(base.Lats), len(base.Lons)
	for _, g := range grids[1:] {
		if len(g.Lats) != nLat || len(g.Lons) != nLon {
			return fmt.Errorf("write netcdf: grid at %s has a different shape", g.Time)
		}
	}

	latOrder := make([]int, nLat)
	fileLats := make([]float64, nLat)
	for i := range latOrder {
		latOrder[i] = i
		if opts.LatDescending {
			latOrder[i] = nLat - 1 - i
		}
		fileLats[i] = base.Lats[latOrder[i]]
	}

	lons := make([]float64, nLon)
	for j, lon := range base.Lons {
		lons[j] = lon
		if opts.Lon360 {
			lons[j] = math.Mod(lon+360, 360)
		}
	}
	fileLons, lonOrder := sortedWithOrder(lons)

	times := make([]float64, nt)
	for k, g := range grids {
		times[k] = g.Time.Sub(timeEpoch).Hours()
	}

	h := cdf.NewHeader([]string{"time", "latitude", "longitude"}, []int{nt, nLat, nLon})
	h.AddAttribute("", "title", "integrated water vapour transport")
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", timeUnits)
	h.AddAttribute("time", "calendar", "gregorian")
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddAttribute("latitude", "units", "degrees_north")
	h.AddVariable("longitude", []string{"longitude"}, []float64{0})
	h.AddAttribute("longitude", "units", "degrees_east")

	dims := []string{"time", "latitude", "longitude"}
	if opts.Scale != 0 {
		h.AddVariable(opts.Variable, dims, []int16{0})
		h.AddAttribute(opts.Variable, "scale_factor", []float64{opts.Scale})
		h.AddAttribute(opts.Variable, "add_offset", []float64{opts.Offset})
		h.AddAttribute(opts.Variable, "_FillValue", []int16{packedFill})
	} else {
		h.AddVariable(opts.Variable, dims, []float32{0})
		h.AddAttribute(opts.Variable, "_FillValue", []float32{floatFill})
	}
	h.AddAttribute(opts.Variable, "units", "kg m**-1 s**-1")
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("write netcdf: %w", err)
	}

	if err := writeVar(f, "time", times); err != nil {
		return err
	}
	if err := writeVar(f, "latitude", fileLats); err != nil {
		return err
	}
	if err := writeVar(f, "longitude", fileLons); err != nil {
		return err
	}

	n := nt * nLat * nLon
	value := func(k, fi, fj int) float64 {
		return grids[k].At(latOrder[fi], lonOrder[fj])
	}
	var data interface{}
	if opts.Scale != 0 {
		packed := make([]int16, 0, n)
		eachCell(nt, nLat, nLon, func(k, fi, fj int) {
			v := value(k, fi, fj)
			if math.IsNaN(v) {
				packed = append(packed, packedFill)
				return
			}
			packed = append(packed, int16(math.Round((v-opts.Offset)/opts.Scale)))
		})
		data = packed
	} else {
		plain := make([]float32, 0, n)
		eachCell(nt, nLat, nLon, func(k, fi, fj int) {
			v := value(k, fi, fj)
			if math.IsNaN(v) {
				plain = append(plain, floatFill)
				return
			}
			plain = append(plain, float32(v))
		})
		data = plain
	}
	if _, err := f.Writer(opts.Variable, []int{0, 0, 0}, []int{nt, nLat, nLon}).Write(data); err != nil {
		return fmt.Errorf("write netcdf: %s: %w", opts.Variable, err)
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return fmt.Errorf("write netcdf: %w", err)
	}
	return nil
}

func writeVar(f *cdf.File, name string, data []float64) error {
	if _, err := f.Writer(name, []int{0}, []int{len(data)}).Write(data); err != nil {
		return fmt.Errorf("write netcdf: %s: %w", name, err)
	}
	return nil
}

func eachCell(nt, nLat, nLon int, fn func(k, i, j int)) {
	for k := 0; k < nt; k++ {
		for i := 0; i < nLat; i++ {
			for j := 0; j < nLon; j++ {
				fn(k, i, j)
			}
		}
	}
}
