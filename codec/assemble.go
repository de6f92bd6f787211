package codec

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/satdb/model"
)

// ElementSet is an assembled legacy text block. Line0 is the optional title
// line; Line1 and Line2 are full 69-column data lines including checksums.
type ElementSet struct {
	Line0 string
	Line1 string
	Line2 string
}

// String renders the block with newline-terminated lines, omitting an empty
// title line.
func (e ElementSet) String() string {
	var b strings.Builder
	if e.Line0 != "" {
		b.WriteString(e.Line0)
		b.WriteByte('\n')
	}
	b.WriteString(e.Line1)
	b.WriteByte('\n')
	b.WriteString(e.Line2)
	b.WriteByte('\n')
	return b.String()
}

// Assemble renders rec as a two-line element set. Optional book-keeping fields
// that are unset encode as zero (classification as U). Any value that does
// not fit its column fails with ErrEncodingOverflow; nothing is truncated.
func Assemble(rec model.OrbitalElementRecord) (ElementSet, error) {
	if err := checkEccentricity(rec.Eccentricity); err != nil {
		return ElementSet{}, err
	}
	line1, err := assembleLine1(&rec)
	if err != nil {
		return ElementSet{}, err
	}
	line2, err := assembleLine2(&rec)
	if err != nil {
		return ElementSet{}, err
	}
	return ElementSet{
		Line0: rec.ObjectName.OrElse(""),
		Line1: line1,
		Line2: line2,
	}, nil
}

func assembleLine1(rec *model.OrbitalElementRecord) (string, error) {
	w := newColumnWriter()

	catalog, err := formatCatalogID(rec.CatalogID)
	if err != nil {
		return "", err
	}
	class := rec.Classification.OrElse(model.ClassificationUnclassified)
	if !class.Valid() {
		return "", fieldErr("classification", ErrEncodingOverflow, "%q is not one of U, C, S", byte(class))
	}
	desig := rec.IntlDesignator.OrElse("")
	if len(desig) > 8 {
		return "", fieldErr("designator", ErrEncodingOverflow, "%q exceeds 8 columns", desig)
	}

	epoch, err := formatEpoch(rec.Epoch)
	if err != nil {
		return "", &FieldError{Field: "epoch", Err: err}
	}

	ndot, err := formatMeanMotionDot(rec.MeanMotionDot.OrElse(0))
	if err != nil {
		return "", err
	}
	nddot, err := EncodeExponent(rec.MeanMotionDDot.OrElse(0))
	if err != nil {
		return "", &FieldError{Field: "mean_motion_ddot", Err: err}
	}
	bstar, err := EncodeExponent(rec.BStar.OrElse(0))
	if err != nil {
		return "", &FieldError{Field: "bstar", Err: err}
	}
	ephem := rec.EphemerisType.OrElse(0)
	if ephem < 0 || ephem > 9 {
		return "", fieldErr("ephemeris_type", ErrEncodingOverflow, "%d is not a single digit", ephem)
	}
	elset := rec.ElementSetNo.OrElse(0)
	if elset < 0 || elset > 9999 {
		return "", fieldErr("element_set_no", ErrEncodingOverflow, "%d outside 0-9999", elset)
	}

	w.put("1", " ", catalog, class.String(), " ")
	w.putf("%-8s", desig)
	w.put(" ", epoch, " ", ndot, " ", nddot, " ", bstar, " ")
	w.putf("%d %4d", ephem, elset)
	return w.finish("line 1")
}

func assembleLine2(rec *model.OrbitalElementRecord) (string, error) {
	w := newColumnWriter()

	catalog, err := formatCatalogID(rec.CatalogID)
	if err != nil {
		return "", err
	}
	angles := []struct {
		name string
		v    float64
	}{
		{"inclination", rec.Inclination},
		{"raan", rec.RAAN},
		{"arg_of_pericenter", rec.ArgOfPericenter},
		{"mean_anomaly", rec.MeanAnomaly},
	}
	formatted := make([]string, len(angles))
	for i, a := range angles {
		if !validAngle(a.v) {
			return "", fieldErr(a.name, ErrEncodingOverflow, "%v outside [0, 360)", a.v)
		}
		formatted[i] = formatAngle(a.v)
	}

	ecc := math.Round(rec.Eccentricity * 1e7)
	if ecc >= 1e7 {
		return "", fieldErr("eccentricity", ErrEncodingOverflow, "%v rounds to 1", rec.Eccentricity)
	}
	if err := checkMeanMotion(rec.MeanMotion); err != nil {
		return "", &FieldError{Field: "mean_motion", Err: err}
	}
	n := fmt.Sprintf("%11.8f", rec.MeanMotion)
	if len(n) != 11 {
		return "", fieldErr("mean_motion", ErrEncodingOverflow, "%v exceeds 11 columns", rec.MeanMotion)
	}
	rev := rec.RevAtEpoch.OrElse(0)
	if rev < 0 || rev > 99999 {
		return "", fieldErr("rev_at_epoch", ErrEncodingOverflow, "%d outside 0-99999", rev)
	}

	w.put("2", " ", catalog, " ", formatted[0], " ", formatted[1], " ")
	w.putf("%07d", int(ecc))
	w.put(" ", formatted[2], " ", formatted[3], " ", n)
	w.putf("%5d", rev)
	return w.finish("line 2")
}

// formatAngle renders deg as %8.4f. Values that round up to 360 wrap to
// 0.0000, the same direction.
func formatAngle(deg float64) string {
	tenThousandths := math.Round(deg * 1e4)
	if tenThousandths >= 360e4 {
		tenThousandths = 0
	}
	return fmt.Sprintf("%8.4f", tenThousandths/1e4)
}

func formatCatalogID(id int) (string, error) {
	if id <= 0 || id > 99999 {
		return "", fieldErr("catalog_id", ErrEncodingOverflow, "%d does not fit 5 columns", id)
	}
	return fmt.Sprintf("%05d", id), nil
}

// formatMeanMotionDot renders the first derivative as a sign column followed
// by ".NNNNNNNN", i.e. %.8f with the leading zero dropped.
func formatMeanMotionDot(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fieldErr("mean_motion_dot", ErrEncodingOverflow, "%v is not finite", v)
	}
	digits := math.Round(math.Abs(v) * 1e8)
	if digits >= 1e8 {
		return "", fieldErr("mean_motion_dot", ErrEncodingOverflow, "|%v| >= 1", v)
	}
	sign := " "
	if v < 0 && digits != 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s.%08d", sign, int64(digits)), nil
}

// columnWriter accumulates the first 68 columns of a data line and appends
// the checksum.
type columnWriter struct {
	b strings.Builder
}

func newColumnWriter() *columnWriter {
	w := &columnWriter{}
	w.b.Grow(LineLength)
	return w
}

func (w *columnWriter) put(parts ...string) {
	for _, p := range parts {
		w.b.WriteString(p)
	}
}

func (w *columnWriter) putf(format string, args ...any) {
	fmt.Fprintf(&w.b, format, args...)
}

func (w *columnWriter) finish(name string) (string, error) {
	body := w.b.String()
	if len(body) != LineLength-1 {
		return "", fmt.Errorf("%w: %s is %d columns before checksum, want %d", ErrEncodingOverflow, name, len(body), LineLength-1)
	}
	sum, err := Checksum(body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return body + string(rune('0'+sum)), nil
}
