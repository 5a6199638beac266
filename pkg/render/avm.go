package render

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/wcs"
)

// Astronomy Visualization Metadata, the subset that records where an
// image sits on the sky.
const (
	avmNS           = "http://www.communicatingastronomy.org/avm/1.0/"
	rdfNS           = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	metadataVersion = "1.2"

	xmpKeyword    = "XML:com.adobe.xmp"
	xmpJPEGHeader = "http://ns.adobe.com/xap/1.0/\x00"
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")

	ErrNoAVM = errors.New("image carries no AVM metadata")
)

// Spatial is the AVM coordinate description of an image. Pixel
// positions are 1-based and counted from the bottom left corner.
type Spatial struct {
	CoordinateFrame       string
	Equinox               string
	ReferenceValue        [2]float64
	ReferenceDimension    [2]float64
	ReferencePixel        [2]float64
	Scale                 []float64
	Rotation              *float64
	CDMatrix              []float64
	CoordsystemProjection string
	Quality               string
}

type AVM struct {
	MetadataVersion string
	Spatial         Spatial
}

// FromWCS describes an image of width by height pixels with
// coordinates w. The reference point is moved to the image centre.
func FromWCS(w *wcs.WCS, width, height int) (AVM, error) {
	ra, dec, err := w.PixelToWorld(float64(width-1)/2, float64(height-1)/2)
	if err != nil {
		return AVM{}, errors.Wrap(err, "finding image centre")
	}
	s := Spatial{
		CoordinateFrame:       w.RADESys,
		ReferenceValue:        [2]float64{ra, dec},
		ReferenceDimension:    [2]float64{float64(width), float64(height)},
		ReferencePixel:        [2]float64{float64(width+1) / 2, float64(height+1) / 2},
		CoordsystemProjection: w.Projection(),
		Quality:               "Full",
	}
	if s.CoordinateFrame == "" {
		s.CoordinateFrame = "ICRS"
	}
	if w.Equinox != 0 {
		s.Equinox = formatFloat(w.Equinox)
	}
	if w.IsDiagonal() {
		var rot float64
		s.Scale = []float64{w.CD[0][0], w.CD[1][1]}
		s.Rotation = &rot
	} else {
		s.CDMatrix = []float64{w.CD[0][0], w.CD[0][1], w.CD[1][0], w.CD[1][1]}
	}
	return AVM{MetadataVersion: metadataVersion, Spatial: s}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// XMP serialises a as an XMP packet.
func (a AVM) XMP() []byte {
	var b bytes.Buffer
	b.WriteString("<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	b.WriteString(" <rdf:RDF xmlns:rdf=\"" + rdfNS + "\">\n")
	b.WriteString("  <rdf:Description rdf:about=\"\" xmlns:avm=\"" + avmNS + "\">\n")

	text := func(name, v string) {
		if v == "" {
			return
		}
		b.WriteString("   <avm:" + name + ">")
		xml.EscapeText(&b, []byte(v))
		b.WriteString("</avm:" + name + ">\n")
	}
	seq := func(name string, vs []float64) {
		if len(vs) == 0 {
			return
		}
		b.WriteString("   <avm:" + name + ">\n    <rdf:Seq>\n")
		for _, v := range vs {
			b.WriteString("     <rdf:li>" + formatFloat(v) + "</rdf:li>\n")
		}
		b.WriteString("    </rdf:Seq>\n   </avm:" + name + ">\n")
	}

	s := a.Spatial
	text("MetadataVersion", a.MetadataVersion)
	text("Spatial.CoordinateFrame", s.CoordinateFrame)
	text("Spatial.Equinox", s.Equinox)
	seq("Spatial.ReferenceValue", s.ReferenceValue[:])
	seq("Spatial.ReferenceDimension", s.ReferenceDimension[:])
	seq("Spatial.ReferencePixel", s.ReferencePixel[:])
	seq("Spatial.Scale", s.Scale)
	if s.Rotation != nil {
		text("Spatial.Rotation", formatFloat(*s.Rotation))
	}
	seq("Spatial.CDMatrix", s.CDMatrix)
	text("Spatial.CoordsystemProjection", s.CoordsystemProjection)
	text("Spatial.Quality", s.Quality)

	b.WriteString("  </rdf:Description>\n </rdf:RDF>\n</x:xmpmeta>\n")
	b.WriteString("<?xpacket end=\"w\"?>")
	return b.Bytes()
}

// ParseXMP reads the AVM fields of an XMP packet. Other properties are
// ignored.
func ParseXMP(packet []byte) (AVM, error) {
	var (
		a      AVM
		field  string
		text   strings.Builder
		values []string
		found  bool
	)
	d := xml.NewDecoder(bytes.NewReader(packet))
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return a, errors.Wrap(err, "parsing XMP packet")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == avmNS:
				field, values = t.Name.Local, nil
				text.Reset()
			case t.Name.Space == rdfNS && t.Name.Local == "li":
				text.Reset()
			}
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch {
			case t.Name.Space == rdfNS && t.Name.Local == "li" && field != "":
				values = append(values, strings.TrimSpace(text.String()))
			case t.Name.Space == avmNS && t.Name.Local == field:
				if err := a.set(field, strings.TrimSpace(text.String()), values); err != nil {
					return a, err
				}
				found = true
				field = ""
			}
		}
	}
	if !found {
		return a, ErrNoAVM
	}
	return a, nil
}

func (a *AVM) set(field, scalar string, values []string) error {
	floats := func(n int) ([]float64, error) {
		if n > 0 && len(values) != n {
			return nil, errors.Errorf("expected %d values, found %d", n, len(values))
		}
		out := make([]float64, len(values))
		for i, v := range values {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	pair := func(dst *[2]float64) error {
		vs, err := floats(2)
		if err == nil {
			copy(dst[:], vs)
		}
		return err
	}

	s := &a.Spatial
	var err error
	switch field {
	case "MetadataVersion":
		a.MetadataVersion = scalar
	case "Spatial.CoordinateFrame":
		s.CoordinateFrame = scalar
	case "Spatial.Equinox":
		s.Equinox = scalar
	case "Spatial.CoordsystemProjection":
		s.CoordsystemProjection = scalar
	case "Spatial.Quality":
		s.Quality = scalar
	case "Spatial.ReferenceValue":
		err = pair(&s.ReferenceValue)
	case "Spatial.ReferenceDimension":
		err = pair(&s.ReferenceDimension)
	case "Spatial.ReferencePixel":
		err = pair(&s.ReferencePixel)
	case "Spatial.Scale":
		s.Scale, err = floats(2)
	case "Spatial.CDMatrix":
		s.CDMatrix, err = floats(4)
	case "Spatial.Rotation":
		var rot float64
		if rot, err = strconv.ParseFloat(scalar, 64); err == nil {
			s.Rotation = &rot
		}
	}
	return errors.Wrapf(err, "AVM %s", field)
}

// EmbedPNG returns img with packet added as an iTXt chunk directly
// after the image header.
func EmbedPNG(img, packet []byte) ([]byte, error) {
	if !bytes.HasPrefix(img, pngSignature) || len(img) < len(pngSignature)+8 {
		return nil, errors.New("not a PNG image")
	}
	ihdr := int(binary.BigEndian.Uint32(img[8:12]))
	at := len(pngSignature) + 12 + ihdr
	if len(img) < at {
		return nil, errors.New("truncated PNG image")
	}

	var data bytes.Buffer
	data.WriteString(xmpKeyword)
	// null separator, no compression, compression method, empty
	// language tag and translated keyword
	data.Write([]byte{0, 0, 0, 0, 0})
	data.Write(packet)

	chunk := make([]byte, 8, 12+data.Len())
	binary.BigEndian.PutUint32(chunk[0:4], uint32(data.Len()))
	copy(chunk[4:8], "iTXt")
	chunk = append(chunk, data.Bytes()...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	out := make([]byte, 0, len(img)+len(chunk))
	out = append(out, img[:at]...)
	out = append(out, chunk...)
	return append(out, img[at:]...), nil
}

// EmbedJPEG returns img with packet added as an APP1 segment directly
// after the start of image marker.
func EmbedJPEG(img, packet []byte) ([]byte, error) {
	if len(img) < 2 || img[0] != 0xff || img[1] != 0xd8 {
		return nil, errors.New("not a JPEG image")
	}
	n := 2 + len(xmpJPEGHeader) + len(packet)
	if n > 0xffff {
		return nil, errors.Errorf("XMP packet of %d bytes does not fit in a JPEG segment", len(packet))
	}
	out := make([]byte, 0, len(img)+2+n)
	out = append(out, img[:2]...)
	out = append(out, 0xff, 0xe1)
	out = binary.BigEndian.AppendUint16(out, uint16(n))
	out = append(out, xmpJPEGHeader...)
	out = append(out, packet...)
	return append(out, img[2:]...), nil
}

// ReadAVM extracts the AVM metadata embedded in a PNG or JPEG image.
func ReadAVM(img []byte) (AVM, error) {
	var packet []byte
	var err error
	switch {
	case bytes.HasPrefix(img, pngSignature):
		packet, err = pngXMP(img)
	case len(img) > 2 && img[0] == 0xff && img[1] == 0xd8:
		packet, err = jpegXMP(img)
	default:
		return AVM{}, errors.New("not a PNG or JPEG image")
	}
	if err != nil {
		return AVM{}, err
	}
	return ParseXMP(packet)
}

func pngXMP(img []byte) ([]byte, error) {
	for at := len(pngSignature); at+8 <= len(img); {
		n := int(binary.BigEndian.Uint32(img[at : at+4]))
		kind := string(img[at+4 : at+8])
		end := at + 8 + n
		if end+4 > len(img) {
			return nil, errors.New("truncated PNG chunk")
		}
		if kind == "iTXt" {
			data := img[at+8 : end]
			if bytes.HasPrefix(data, []byte(xmpKeyword+"\x00")) {
				rest := data[len(xmpKeyword)+3:]
				// language tag and translated keyword
				for i := 0; i < 2; i++ {
					j := bytes.IndexByte(rest, 0)
					if j < 0 {
						return nil, errors.New("malformed iTXt chunk")
					}
					rest = rest[j+1:]
				}
				return rest, nil
			}
		}
		if kind == "IEND" {
			break
		}
		at = end + 4
	}
	return nil, ErrNoAVM
}

func jpegXMP(img []byte) ([]byte, error) {
	for at := 2; at+4 <= len(img); {
		if img[at] != 0xff {
			return nil, errors.Errorf("bad JPEG marker at offset %d", at)
		}
		marker := img[at+1]
		if marker == 0xda || marker == 0xd9 {
			break
		}
		n := int(binary.BigEndian.Uint16(img[at+2 : at+4]))
		end := at + 2 + n
		if n < 2 || end > len(img) {
			return nil, errors.New("truncated JPEG segment")
		}
		payload := img[at+4 : end]
		if marker == 0xe1 && bytes.HasPrefix(payload, []byte(xmpJPEGHeader)) {
			return payload[len(xmpJPEGHeader):], nil
		}
		at = end
	}
	return nil, ErrNoAVM
}
