// Package lyrics reads LRC lyrics attached to uploads.
package lyrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Line struct {
	At   time.Duration
	Text string
}

// Document is a parsed LRC text. Header keys are lower case (ti, ar, al,
// by, offset, ...).
type Document struct {
	Header map[string]string
	Lines  []Line
}

func (d *Document) Title() string  { return d.Header["ti"] }
func (d *Document) Artist() string { return d.Header["ar"] }

// Synced reports whether any line carries a timestamp.
func (d *Document) Synced() bool {
	return len(d.Lines) > 0
}

var (
	stampRe  = regexp.MustCompile(`\[(\d+):(\d{1,2})(?:[.:](\d{1,3}))?\]`)
	headerRe = regexp.MustCompile(`^\[([A-Za-z]+):(.*)\]$`)
)

// Parse reads LRC text. Lines that are neither header tags nor timestamped
// are ignored. A line with several stamps yields one Line per stamp.
func Parse(text string) *Document {
	doc := &Document{Header: map[string]string{}}
	text = strings.TrimPrefix(text, "\ufeff")

	for _, raw := range strings.Split(text, "\n") {
		row := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if row == "" {
			continue
		}

		stamps := stampRe.FindAllStringSubmatchIndex(row, -1)
		if len(stamps) == 0 || stamps[0][0] != 0 {
			if m := headerRe.FindStringSubmatch(row); m != nil {
				doc.Header[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
			}
			continue
		}

		body := strings.TrimSpace(row[stamps[len(stamps)-1][1]:])
		for _, s := range stamps {
			at, ok := stampAt(row, s)
			if ok {
				doc.Lines = append(doc.Lines, Line{At: at, Text: body})
			}
		}
	}

	sort.SliceStable(doc.Lines, func(i, j int) bool {
		return doc.Lines[i].At < doc.Lines[j].At
	})
	return doc
}

// stampAt converts the submatch indexes of one stamp to a duration. Fractions
// of two digits are hundredths, three digits milliseconds.
func stampAt(row string, idx []int) (time.Duration, bool) {
	group := func(n int) string {
		if idx[2*n] < 0 {
			return ""
		}
		return row[idx[2*n]:idx[2*n+1]]
	}
	mins, err := strconv.Atoi(group(1))
	if err != nil {
		return 0, false
	}
	sec, err := strconv.Atoi(group(2))
	if err != nil || sec >= 60 {
		return 0, false
	}
	at := time.Duration(mins)*time.Minute + time.Duration(sec)*time.Second

	if frac := group(3); frac != "" {
		n, err := strconv.Atoi(frac)
		if err != nil {
			return 0, false
		}
		switch len(frac) {
		case 1:
			at += time.Duration(n) * 100 * time.Millisecond
		case 2:
			at += time.Duration(n) * 10 * time.Millisecond
		default:
			at += time.Duration(n) * time.Millisecond
		}
	}
	return at, true
}

// Looks reports whether text parses as LRC with at least one timed line or
// header tag. Plain unsynced lyrics return false.
func Looks(text string) bool {
	doc := Parse(text)
	return doc.Synced() || len(doc.Header) > 0
}
