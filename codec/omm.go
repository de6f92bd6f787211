package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/satdb/model"
)

// OMMHeader is the header shared by every segment of one OMM message.
type OMMHeader struct {
	Comments     []string `xml:"COMMENT"`
	CreationDate *string  `xml:"CREATION_DATE"`
	Originator   *string  `xml:"ORIGINATOR"`
}

// OMMSegment is one object's metadata and mean elements.
type OMMSegment struct {
	Metadata struct {
		ObjectName        *string `xml:"OBJECT_NAME"`
		ObjectID          *string `xml:"OBJECT_ID"`
		CenterName        *string `xml:"CENTER_NAME"`
		RefFrame          *string `xml:"REF_FRAME"`
		TimeSystem        *string `xml:"TIME_SYSTEM"`
		MeanElementTheory *string `xml:"MEAN_ELEMENT_THEORY"`
	} `xml:"metadata"`
	Data struct {
		MeanElements struct {
			Epoch           *string `xml:"EPOCH"`
			MeanMotion      *string `xml:"MEAN_MOTION"`
			Eccentricity    *string `xml:"ECCENTRICITY"`
			Inclination     *string `xml:"INCLINATION"`
			RAAN            *string `xml:"RA_OF_ASC_NODE"`
			ArgOfPericenter *string `xml:"ARG_OF_PERICENTER"`
			MeanAnomaly     *string `xml:"MEAN_ANOMALY"`
		} `xml:"meanElements"`
		TLEParameters struct {
			EphemerisType      *string `xml:"EPHEMERIS_TYPE"`
			ClassificationType *string `xml:"CLASSIFICATION_TYPE"`
			NoradCatID         *string `xml:"NORAD_CAT_ID"`
			ElementSetNo       *string `xml:"ELEMENT_SET_NO"`
			RevAtEpoch         *string `xml:"REV_AT_EPOCH"`
			BStar              *string `xml:"BSTAR"`
			MeanMotionDot      *string `xml:"MEAN_MOTION_DOT"`
			MeanMotionDDot     *string `xml:"MEAN_MOTION_DDOT"`
		} `xml:"tleParameters"`
		UserDefined []struct {
			Parameter string `xml:"parameter,attr"`
			Value     string `xml:",chardata"`
		} `xml:"userDefinedParameters>USER_DEFINED"`
	} `xml:"data"`
}

type ommMessage struct {
	Header   OMMHeader    `xml:"header"`
	Segments []OMMSegment `xml:"body>segment"`
}

// SegmentResult is the outcome of parsing one segment. Err is set when the
// segment itself is unusable; the rest of the document is unaffected.
type SegmentResult struct {
	Index    int
	Elements model.OrbitalElementRecord
	Metadata model.ObjectMetadata
	Err      error
}

// ParseOMM reads an OMM document, either a single <omm> message or an <ndm>
// container holding several, and parses every segment it finds. Only XML
// syntax errors and documents without any <omm> message fail the call.
func ParseOMM(r io.Reader) ([]SegmentResult, error) {
	dec := xml.NewDecoder(r)
	var (
		results  []SegmentResult
		messages int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "omm" {
			continue
		}
		var msg ommMessage
		if err := dec.DecodeElement(&msg, &se); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		messages++
		for i := range msg.Segments {
			elems, meta, err := ParseSegment(&msg.Segments[i], &msg.Header)
			results = append(results, SegmentResult{
				Index:    len(results),
				Elements: elems,
				Metadata: meta,
				Err:      err,
			})
		}
	}
	if messages == 0 {
		return nil, fmt.Errorf("%w: no <omm> message in document", ErrMalformedRecord)
	}
	return results, nil
}

// ParseSegment maps one OMM segment onto the canonical record and object
// metadata.
//
// Required: NORAD_CAT_ID, EPOCH and the six mean elements. For every other
// field the rule is the same: a present, non-blank value is used; anything
// else leaves the field unset. Nothing is defaulted here.
//
//	ORIGINATOR, CREATION_DATE, COMMENT        <- header
//	OBJECT_NAME, OBJECT_ID, CENTER_NAME, ...  <- metadata
//	BSTAR, MEAN_MOTION_DOT, ..., CLASSIFICATION_TYPE <- tleParameters
//	SEMIMAJOR_AXIS, PERIOD, APOAPSIS, PERIAPSIS, OBJECT_TYPE, RCS_SIZE,
//	COUNTRY_CODE, LAUNCH_DATE, SITE, DECAY_DATE <- userDefinedParameters
func ParseSegment(seg *OMMSegment, hdr *OMMHeader) (model.OrbitalElementRecord, model.ObjectMetadata, error) {
	var (
		rec  model.OrbitalElementRecord
		meta model.ObjectMetadata
	)
	if seg == nil {
		return rec, meta, fmt.Errorf("%w: nil segment", ErrMalformedRecord)
	}
	p := fieldParser{}
	me := &seg.Data.MeanElements
	tp := &seg.Data.TLEParameters

	rec.CatalogID = p.catalogID("NORAD_CAT_ID", tp.NoradCatID)
	rec.Epoch = p.requiredTime("EPOCH", me.Epoch)
	rec.MeanMotion = p.requiredFloat("MEAN_MOTION", me.MeanMotion)
	rec.Eccentricity = p.requiredFloat("ECCENTRICITY", me.Eccentricity)
	rec.Inclination = p.angle("INCLINATION", me.Inclination)
	rec.RAAN = p.angle("RA_OF_ASC_NODE", me.RAAN)
	rec.ArgOfPericenter = p.angle("ARG_OF_PERICENTER", me.ArgOfPericenter)
	rec.MeanAnomaly = p.angle("MEAN_ANOMALY", me.MeanAnomaly)
	if p.err == nil {
		if err := checkMeanMotion(rec.MeanMotion); err != nil {
			p.fail("MEAN_MOTION", err)
		} else if err := checkEccentricity(rec.Eccentricity); err != nil {
			p.fail("ECCENTRICITY", err)
		}
	}

	rec.EphemerisType = p.optionalInt("EPHEMERIS_TYPE", tp.EphemerisType)
	rec.ElementSetNo = p.optionalInt("ELEMENT_SET_NO", tp.ElementSetNo)
	rec.RevAtEpoch = p.optionalInt("REV_AT_EPOCH", tp.RevAtEpoch)
	rec.BStar = p.optionalFloat("BSTAR", tp.BStar)
	rec.MeanMotionDot = p.optionalFloat("MEAN_MOTION_DOT", tp.MeanMotionDot)
	rec.MeanMotionDDot = p.optionalFloat("MEAN_MOTION_DDOT", tp.MeanMotionDDot)
	rec.Classification = p.classification("CLASSIFICATION_TYPE", tp.ClassificationType)

	rec.ObjectName = optionalString(seg.Metadata.ObjectName)
	rec.ObjectID = optionalString(seg.Metadata.ObjectID)
	if id, ok := rec.ObjectID.Get(); ok {
		if short, ok := ShortDesignator(id); ok {
			rec.IntlDesignator = model.Some(short)
		}
	}

	user := make(map[string]*string, len(seg.Data.UserDefined))
	for i := range seg.Data.UserDefined {
		ud := &seg.Data.UserDefined[i]
		user[strings.ToUpper(strings.TrimSpace(ud.Parameter))] = &ud.Value
	}
	rec.SemiMajorAxisKm = p.optionalFloat("SEMIMAJOR_AXIS", user["SEMIMAJOR_AXIS"])
	rec.PeriodMin = p.optionalFloat("PERIOD", user["PERIOD"])
	rec.ApoapsisAltKm = p.optionalFloat("APOAPSIS", user["APOAPSIS"])
	rec.PeriapsisAltKm = p.optionalFloat("PERIAPSIS", user["PERIAPSIS"])

	if hdr != nil {
		rec.Originator = optionalString(hdr.Originator)
		rec.SourceCreatedAt = p.optionalTime("CREATION_DATE", hdr.CreationDate)
		var comments []string
		for _, c := range hdr.Comments {
			if c = strings.TrimSpace(c); c != "" {
				comments = append(comments, c)
			}
		}
		if len(comments) > 0 {
			rec.OriginatorComment = model.Some(strings.Join(comments, "\n"))
		}
	}

	meta = model.ObjectMetadata{
		CatalogID:         rec.CatalogID,
		ObjectName:        rec.ObjectName,
		ObjectID:          rec.ObjectID,
		IntlDesignator:    rec.IntlDesignator,
		CenterName:        optionalString(seg.Metadata.CenterName),
		RefFrame:          optionalString(seg.Metadata.RefFrame),
		MeanElementTheory: optionalString(seg.Metadata.MeanElementTheory),
		Classification:    rec.Classification,
		ObjectType:        optionalString(user["OBJECT_TYPE"]),
		RCSSize:           optionalString(user["RCS_SIZE"]),
		CountryCode:       optionalString(user["COUNTRY_CODE"]),
		LaunchDate:        optionalString(user["LAUNCH_DATE"]),
		Site:              optionalString(user["SITE"]),
		DecayDate:         optionalString(user["DECAY_DATE"]),
	}

	if p.err != nil {
		return model.OrbitalElementRecord{}, model.ObjectMetadata{}, p.err
	}
	return rec, meta, nil
}

// fieldParser keeps the first failure so that ParseSegment reads linearly.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.err = &FieldError{Field: field, Err: err}
	}
}

func (p *fieldParser) required(field string, s *string) (string, bool) {
	v, ok := optionalString(s).Get()
	if !ok {
		p.fail(field, fmt.Errorf("%w: required field absent", ErrMalformedRecord))
	}
	return v, ok
}

func (p *fieldParser) catalogID(field string, s *string) int {
	v, ok := p.required(field, s)
	if !ok {
		return 0
	}
	id, err := ParseCatalogID(v)
	if err != nil {
		p.fail(field, err)
	}
	return id
}

func (p *fieldParser) requiredFloat(field string, s *string) float64 {
	v, ok := p.required(field, s)
	if !ok {
		return 0
	}
	f, err := parseFloat(v)
	if err != nil {
		p.fail(field, err)
	}
	return f
}

func (p *fieldParser) angle(field string, s *string) float64 {
	f := p.requiredFloat(field, s)
	if p.err == nil && !validAngle(f) {
		p.fail(field, fmt.Errorf("%w: %v outside [0, 360)", ErrMalformedRecord, f))
	}
	return f
}

func (p *fieldParser) requiredTime(field string, s *string) time.Time {
	v, ok := p.required(field, s)
	if !ok {
		return time.Time{}
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		p.fail(field, err)
	}
	return t
}

func (p *fieldParser) optionalFloat(field string, s *string) model.Optional[float64] {
	v, ok := optionalString(s).Get()
	if !ok {
		return model.None[float64]()
	}
	f, err := parseFloat(v)
	if err != nil {
		p.fail(field, err)
		return model.None[float64]()
	}
	return model.Some(f)
}

func (p *fieldParser) optionalInt(field string, s *string) model.Optional[int] {
	v, ok := optionalString(s).Get()
	if !ok {
		return model.None[int]()
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail(field, fmt.Errorf("%w: %q is not a non-negative integer", ErrMalformedRecord, v))
		return model.None[int]()
	}
	return model.Some(n)
}

func (p *fieldParser) optionalTime(field string, s *string) model.Optional[time.Time] {
	v, ok := optionalString(s).Get()
	if !ok {
		return model.None[time.Time]()
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		p.fail(field, err)
		return model.None[time.Time]()
	}
	return model.Some(t)
}

func (p *fieldParser) classification(field string, s *string) model.Optional[model.Classification] {
	v, ok := optionalString(s).Get()
	if !ok {
		return model.None[model.Classification]()
	}
	c := model.Classification(0)
	if len(v) == 1 {
		c = model.Classification(strings.ToUpper(v)[0])
	}
	if !c.Valid() {
		p.fail(field, fmt.Errorf("%w: classification %q not one of U, C, S", ErrMalformedRecord, v))
		return model.None[model.Classification]()
	}
	return model.Some(c)
}

func optionalString(s *string) model.Optional[string] {
	if s == nil {
		return model.None[string]()
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return model.None[string]()
	}
	return model.Some(v)
}

// ParseCatalogID parses a 1-9 digit positive catalog number.
func ParseCatalogID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 9 {
		return 0, fmt.Errorf("%w: catalog id %q must have 1-9 digits", ErrMalformedRecord, s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: catalog id %q is not numeric", ErrMalformedRecord, s)
		}
	}
	id, _ := strconv.Atoi(s)
	if id == 0 {
		return 0, fmt.Errorf("%w: catalog id must be positive", ErrMalformedRecord)
	}
	return id, nil
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO-8601 variants found in OMM files. Values
// without a zone are UTC. The result is truncated to the microsecond.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrMalformedRecord, s)
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrMalformedRecord, s)
	}
	return f, nil
}

func validAngle(deg float64) bool {
	return deg >= 0 && deg < 360
}
