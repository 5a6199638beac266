package fits

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// BlockSize is the FITS logical record length.
	BlockSize = 2880
	// CardSize is the length of one header card.
	CardSize = 80

	cardsPerBlock = BlockSize / CardSize
)

// Card is one header record. Value is a string, bool, int64, float64,
// or nil for commentary cards and undefined values.
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// isCommentary reports whether a card carries free text after the
// keyword. HIERARCH cards are kept as text too, so they are written
// back exactly as read.
func isCommentary(key string) bool {
	switch key {
	case "COMMENT", "HISTORY", "HIERARCH", "":
		return true
	}
	return false
}

// Header is an ordered list of cards. Lookups find the first card with
// a key; commentary cards may repeat.
type Header struct {
	cards []Card
}

func NewHeader(cards ...Card) *Header {
	return &Header{cards: append([]Card(nil), cards...)}
}

func (h *Header) Cards() []Card {
	return h.cards
}

func (h *Header) Len() int {
	return len(h.cards)
}

func (h *Header) Clone() *Header {
	return NewHeader(h.cards...)
}

func (h *Header) index(key string) int {
	key = strings.ToUpper(key)
	for i, c := range h.cards {
		if c.Key == key {
			return i
		}
	}
	return -1
}

func (h *Header) Has(key string) bool {
	return h.index(key) >= 0
}

func (h *Header) Get(key string) (Card, bool) {
	if i := h.index(key); i >= 0 {
		return h.cards[i], true
	}
	return Card{}, false
}

func (h *Header) String(key string) (string, bool) {
	c, ok := h.Get(key)
	if !ok {
		return "", false
	}
	s, ok := c.Value.(string)
	return s, ok
}

// Float returns a numeric value; integers are converted.
func (h *Header) Float(key string) (float64, bool) {
	c, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (h *Header) Int(key string) (int64, bool) {
	c, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	}
	return 0, false
}

func (h *Header) Bool(key string) (bool, bool) {
	c, ok := h.Get(key)
	if !ok {
		return false, false
	}
	b, ok := c.Value.(bool)
	return b, ok
}

// Set replaces the value of the first card with key, or appends a new
// card. An empty comment keeps the existing one.
func (h *Header) Set(key string, value interface{}, comment string) {
	key = strings.ToUpper(key)
	if i := h.index(key); i >= 0 && !isCommentary(key) {
		h.cards[i].Value = value
		if comment != "" {
			h.cards[i].Comment = comment
		}
		return
	}
	h.cards = append(h.cards, Card{Key: key, Value: value, Comment: comment})
}

// Add appends a card without replacing anything.
func (h *Header) Add(c Card) {
	c.Key = strings.ToUpper(c.Key)
	h.cards = append(h.cards, c)
}

// AddComment appends a COMMENT card.
func (h *Header) AddComment(text string) {
	h.cards = append(h.cards, Card{Key: "COMMENT", Comment: text})
}

// Delete removes every card with one of keys.
func (h *Header) Delete(keys ...string) {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[strings.ToUpper(k)] = true
	}
	kept := h.cards[:0]
	for _, c := range h.cards {
		if !drop[c.Key] {
			kept = append(kept, c)
		}
	}
	h.cards = kept
}

// parseCard decodes one 80 character record.
func parseCard(raw string) (Card, error) {
	if len(raw) < CardSize {
		raw += strings.Repeat(" ", CardSize-len(raw))
	}
	key := strings.TrimSpace(raw[:8])
	if isCommentary(key) || raw[8:10] != "= " {
		return Card{Key: key, Comment: strings.TrimRight(raw[8:], " ")}, nil
	}
	value, comment, err := parseValue(raw[10:])
	if err != nil {
		return Card{}, errors.Wrapf(err, "card %s", key)
	}
	return Card{Key: key, Value: value, Comment: comment}, nil
}

func parseValue(s string) (interface{}, string, error) {
	s = strings.TrimLeft(s, " ")
	if strings.HasPrefix(s, "'") {
		var b strings.Builder
		i := 1
		for ; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				break
			}
			b.WriteByte(s[i])
		}
		if i >= len(s) {
			return nil, "", errors.New("unterminated string value")
		}
		return strings.TrimRight(b.String(), " "), comment(s[i+1:]), nil
	}

	token, rest := s, ""
	if i := strings.IndexByte(s, '/'); i >= 0 {
		token, rest = s[:i], s[i:]
	}
	token = strings.TrimSpace(token)
	c := comment(rest)
	switch token {
	case "":
		return nil, c, nil
	case "T":
		return true, c, nil
	case "F":
		return false, c, nil
	}
	if v, err := strconv.ParseInt(token, 10, 64); err == nil {
		return v, c, nil
	}
	if v, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(token), 64); err == nil {
		return v, c, nil
	}
	// complex values and anything else non-standard are kept verbatim
	return token, c, nil
}

func comment(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "/") {
		return strings.TrimSpace(s[1:])
	}
	return ""
}

// formatCard encodes a card in fixed format. Long strings use the
// CONTINUE convention, so the result may span several records.
func formatCard(c Card) ([]string, error) {
	key := strings.ToUpper(c.Key)
	if len(key) > 8 {
		return nil, errors.Errorf("keyword %q longer than 8 characters", key)
	}
	if isCommentary(key) {
		text := c.Comment
		if s, ok := c.Value.(string); ok && text == "" {
			text = s
		}
		var records []string
		for {
			chunk := text
			if len(chunk) > 72 {
				chunk = text[:72]
			}
			records = append(records, pad(fmt.Sprintf("%-8s%s", key, chunk)))
			text = text[len(chunk):]
			if text == "" {
				return records, nil
			}
		}
	}

	var value string
	switch v := c.Value.(type) {
	case nil:
		value = ""
	case bool:
		value = fmt.Sprintf("%20s", map[bool]string{true: "T", false: "F"}[v])
	case int:
		value = fmt.Sprintf("%20d", v)
	case int64:
		value = fmt.Sprintf("%20d", v)
	case float64:
		s, err := formatFloat(v)
		if err != nil {
			return nil, errors.Wrapf(err, "card %s", key)
		}
		value = fmt.Sprintf("%20s", s)
	case string:
		return formatString(key, v, c.Comment), nil
	default:
		return nil, errors.Errorf("card %s: unsupported value type %T", key, c.Value)
	}
	record := fmt.Sprintf("%-8s= %s", key, value)
	if c.Comment != "" {
		record += " / " + c.Comment
	}
	return []string{pad(record)}, nil
}

func formatString(key, v, com string) []string {
	quote := func(s string) string {
		s = strings.Replace(s, "'", "''", -1)
		if len(s) < 8 {
			s += strings.Repeat(" ", 8-len(s))
		}
		return "'" + s + "'"
	}
	q := quote(v)
	if len(q) <= 70 {
		record := fmt.Sprintf("%-8s= %-20s", key, q)
		if com != "" {
			record += " / " + com
		}
		return []string{pad(record)}
	}

	// CONTINUE: each piece but the last ends with '&'
	const room = 67
	var records []string
	for first := true; len(v) > 0; first = false {
		n, escaped := 0, 0
		for n < len(v) {
			w := 1
			if v[n] == '\'' {
				w = 2
			}
			if escaped+w > room {
				break
			}
			escaped += w
			n++
		}
		text := v[:n]
		v = v[n:]
		if len(v) > 0 {
			text += "&"
		}
		if first {
			records = append(records, pad(fmt.Sprintf("%-8s= %s", key, quote(text))))
		} else {
			records = append(records, pad(fmt.Sprintf("%-8s  %s", "CONTINUE", quote(text))))
		}
	}
	return records
}

func formatFloat(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", errors.Errorf("%v cannot be written to a header", v)
	}
	s := strconv.FormatFloat(v, 'G', -1, 64)
	switch {
	case !strings.ContainsAny(s, ".E"):
		s += ".0"
	case !strings.Contains(s, "."):
		s = strings.Replace(s, "E", ".0E", 1)
	}
	return s, nil
}

func pad(s string) string {
	if len(s) >= CardSize {
		return s[:CardSize]
	}
	return s + strings.Repeat(" ", CardSize-len(s))
}

// Encode returns the header records followed by END, padded to whole
// blocks.
func (h *Header) Encode() ([]byte, error) {
	var b strings.Builder
	for _, c := range h.cards {
		if c.Key == "END" {
			continue
		}
		records, err := formatCard(c)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			b.WriteString(r)
		}
	}
	b.WriteString(pad("END"))
	if rem := b.Len() % BlockSize; rem != 0 {
		b.WriteString(strings.Repeat(" ", BlockSize-rem))
	}
	return []byte(b.String()), nil
}

// decodeBlock appends the cards of one header block to h. It reports
// whether END was seen.
func (h *Header) decodeBlock(block []byte) (bool, error) {
	for i := 0; i < cardsPerBlock; i++ {
		raw := string(block[i*CardSize : (i+1)*CardSize])
		if strings.TrimRight(raw, " ") == "END" {
			return true, nil
		}
		if strings.HasPrefix(raw, "CONTINUE") && len(h.cards) > 0 {
			last := &h.cards[len(h.cards)-1]
			if s, ok := last.Value.(string); ok && strings.HasSuffix(s, "&") {
				v, com, err := parseValue(raw[8:])
				if err == nil {
					if more, ok := v.(string); ok {
						last.Value = s[:len(s)-1] + more
						if com != "" {
							last.Comment = com
						}
						continue
					}
				}
			}
		}
		c, err := parseCard(raw)
		if err != nil {
			return false, err
		}
		h.cards = append(h.cards, c)
	}
	return false, nil
}
