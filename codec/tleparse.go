package codec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/satdb/model"
)

// ParseTLE reads an element set back into canonical form. line0 is the title
// line and may be empty. Both data lines must be 69 columns with valid
// checksums and the same catalog number. Derived parameters are left unset.
func ParseTLE(line0, line1, line2 string) (model.OrbitalElementRecord, error) {
	var rec model.OrbitalElementRecord
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")

	if err := checkDataLine(line1, '1'); err != nil {
		return rec, &FieldError{Field: "line 1", Err: err}
	}
	if err := checkDataLine(line2, '2'); err != nil {
		return rec, &FieldError{Field: "line 2", Err: err}
	}
	if line1[2:7] != line2[2:7] {
		return rec, fmt.Errorf("%w: catalog numbers %q and %q differ", ErrMalformedRecord, line1[2:7], line2[2:7])
	}

	p := columnParser{}
	rec.CatalogID = p.catalogID("catalog_id", line1[2:7])
	if c := model.Classification(line1[7]); c.Valid() {
		rec.Classification = model.Some(c)
	} else if line1[7] != ' ' {
		p.fail("classification", fmt.Errorf("%w: %q not one of U, C, S", ErrMalformedRecord, line1[7]))
	}
	if desig := strings.TrimSpace(line1[9:17]); desig != "" {
		rec.IntlDesignator = model.Some(desig)
		if full, ok := FullDesignator(desig); ok {
			rec.ObjectID = model.Some(full)
		}
	}
	yy := p.integer("epoch_year", line1[18:20])
	doy := p.number("epoch_day", line1[20:32])
	if p.err == nil {
		epoch, err := FromDayOfYear(ExpandTwoDigitYear(yy), doy)
		if err != nil {
			p.fail("epoch", err)
		}
		rec.Epoch = epoch
	}
	rec.MeanMotionDot = model.Some(p.impliedDecimal("mean_motion_dot", line1[33:43]))
	rec.MeanMotionDDot = model.Some(p.exponent("mean_motion_ddot", line1[44:52]))
	rec.BStar = model.Some(p.exponent("bstar", line1[53:61]))
	if eph := strings.TrimSpace(line1[62:63]); eph != "" {
		rec.EphemerisType = model.Some(p.integer("ephemeris_type", eph))
	}
	if es := strings.TrimSpace(line1[64:68]); es != "" {
		rec.ElementSetNo = model.Some(p.integer("element_set_no", es))
	}

	rec.Inclination = p.angle("inclination", line2[8:16])
	rec.RAAN = p.angle("raan", line2[17:25])
	rec.Eccentricity = p.number("eccentricity", "0."+strings.TrimSpace(line2[26:33]))
	rec.ArgOfPericenter = p.angle("arg_of_pericenter", line2[34:42])
	rec.MeanAnomaly = p.angle("mean_anomaly", line2[43:51])
	rec.MeanMotion = p.number("mean_motion", line2[52:63])
	if rev := strings.TrimSpace(line2[63:68]); rev != "" {
		rec.RevAtEpoch = model.Some(p.integer("rev_at_epoch", rev))
	}
	if p.err == nil {
		if err := checkMeanMotion(rec.MeanMotion); err != nil {
			p.fail("mean_motion", err)
		}
	}

	if name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line0), "0 ")); name != "" {
		rec.ObjectName = model.Some(name)
	}

	if p.err != nil {
		return model.OrbitalElementRecord{}, p.err
	}
	return rec, nil
}

// TLEResult is the outcome of reading one element set from legacy text.
// Line is the input line on which the set ended.
type TLEResult struct {
	Line     int
	Elements model.OrbitalElementRecord
	Err      error
}

type textLine struct {
	no   int
	text string
}

// ReadTLE reads consecutive element sets from r. A set is anchored on a
// 69-column line starting "1 " directly followed by one starting "2 "; the
// line before the pair is its title unless it starts like a data line. Blank
// lines are skipped. Lines that belong to no set are reported, one result
// per run of such lines, and reading carries on. Only read errors fail the
// call.
func ReadTLE(r io.Reader) ([]TLEResult, error) {
	var (
		out    []TLEResult
		window []textLine
		strays []textLine
		lineNo int
	)
	flushStrays := func() {
		if len(strays) == 0 {
			return
		}
		last := strays[len(strays)-1].no
		err := fmt.Errorf("%w: %d line(s) ending at line %d belong to no element set",
			ErrMalformedRecord, len(strays), last)
		out = append(out, TLEResult{Line: last, Err: err})
		strays = strays[:0]
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		window = append(window, textLine{no: lineNo, text: line})

		n := len(window)
		if n < 2 || !isDataLine(window[n-2].text, '1') || !isDataLine(window[n-1].text, '2') {
			// Keep a title candidate and a line 1 candidate; anything older
			// cannot start a set any more.
			if n > 2 {
				strays = append(strays, window[0])
				window = window[1:]
			}
			continue
		}

		title := ""
		before := window[:n-2]
		if k := len(before); k > 0 && !startsLikeDataLine(before[k-1].text) {
			title = before[k-1].text
			before = before[:k-1]
		}
		strays = append(strays, before...)
		flushStrays()

		rec, err := ParseTLE(title, window[n-2].text, window[n-1].text)
		if err != nil {
			err = fmt.Errorf("element set ending at line %d: %w", lineNo, err)
		}
		out = append(out, TLEResult{Line: lineNo, Elements: rec, Err: err})
		window = window[:0]
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	strays = append(strays, window...)
	flushStrays()
	return out, nil
}

// ParseTLEText is ReadTLE for callers that want all or nothing: it stops at
// the first bad set and returns the records read before it.
func ParseTLEText(r io.Reader) ([]model.OrbitalElementRecord, error) {
	results, err := ReadTLE(r)
	out := make([]model.OrbitalElementRecord, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			return out, res.Err
		}
		out = append(out, res.Elements)
	}
	return out, err
}

// startsLikeDataLine reports whether line opens with "1 " or "2 ", whatever
// its length. Such a line is never taken as a title.
func startsLikeDataLine(line string) bool {
	return len(line) >= 2 && (line[0] == '1' || line[0] == '2') && line[1] == ' '
}

func isDataLine(line string, number byte) bool {
	return len(line) == LineLength && line[0] == number && line[1] == ' '
}

func checkDataLine(line string, number byte) error {
	if len(line) != LineLength {
		return fmt.Errorf("%w: %d columns, want %d", ErrMalformedRecord, len(line), LineLength)
	}
	if line[0] != number || line[1] != ' ' {
		return fmt.Errorf("%w: expected line number %c", ErrMalformedRecord, number)
	}
	return VerifyChecksum(line)
}

type columnParser struct {
	err error
}

func (p *columnParser) fail(field string, err error) {
	if p.err == nil {
		p.err = &FieldError{Field: field, Err: err}
	}
}

func (p *columnParser) catalogID(field, s string) int {
	id, err := ParseCatalogID(s)
	if err != nil {
		p.fail(field, err)
	}
	return id
}

func (p *columnParser) integer(field, s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		p.fail(field, fmt.Errorf("%w: %q is not an integer", ErrMalformedRecord, s))
	}
	return n
}

func (p *columnParser) number(field, s string) float64 {
	f, err := parseFloat(s)
	if err != nil {
		p.fail(field, err)
	}
	return f
}

func (p *columnParser) angle(field, s string) float64 {
	f := p.number(field, s)
	if p.err == nil && !validAngle(f) {
		p.fail(field, fmt.Errorf("%w: %v outside [0, 360)", ErrMalformedRecord, f))
	}
	return f
}

// impliedDecimal parses " .00001909" / "-.00001909".
func (p *columnParser) impliedDecimal(field, s string) float64 {
	v := strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(v, "-") || strings.HasPrefix(v, "+") {
		sign, v = v[:1], v[1:]
	}
	if strings.HasPrefix(v, ".") {
		v = "0" + v
	}
	return p.number(field, sign+v)
}

func (p *columnParser) exponent(field, s string) float64 {
	f, err := DecodeExponent(s)
	if err != nil {
		p.fail(field, err)
	}
	return f
}
