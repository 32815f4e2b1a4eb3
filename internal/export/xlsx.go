package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/suitability"
)

// ReportSheet is the name of the candidate sheet in XLSX reports.
const ReportSheet = "Candidates"

var reportHeader = []string{"Rank", "Weight", "Area (m²)", "Longitude", "Latitude", "Projected area"}

// WriteXLSX writes a spreadsheet with one row per face: rank, weight,
// approximate ground area, an interior point and the area in projected
// units. Rows keep the order of res, which ranks equal weights by projected
// area, so under a conformal projection the ground area column may not be
// monotonic across latitudes.
func WriteXLSX(w io.Writer, res *suitability.RankedResult, opts Options) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ReportSheet)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	row := sheet.AddRow()
	for _, h := range reportHeader {
		row.AddCell().SetString(h)
	}

	if res != nil {
		for i, face := range res.Faces {
			p := planar.PointOnSurface(face.Geom)
			if p == nil {
				continue
			}
			x, y := p.X(), p.Y()
			area := face.Area
			if opts.Projection != nil {
				s := opts.Projection.Scale(y)
				area /= s * s
				x, y = opts.Projection.Inverse(x, y)
			}

			row := sheet.AddRow()
			row.AddCell().SetInt(i + 1)
			row.AddCell().SetInt(face.Weight)
			row.AddCell().SetFloatWithFormat(area, "0.0")
			row.AddCell().SetFloatWithFormat(x, "0.000000")
			row.AddCell().SetFloatWithFormat(y, "0.000000")
			row.AddCell().SetFloatWithFormat(face.Area, "0.0")
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
