package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Field is a value extracted from a page that may not have been found.
type Field[T any] struct {
	Value T
	OK    bool
}

func Found[T any](v T) Field[T] {
	return Field[T]{Value: v, OK: true}
}

// Or returns the value if it was found, def otherwise.
func (f Field[T]) Or(def T) T {
	if !f.OK {
		return def
	}
	return f.Value
}

// TrackDescriptor is what could be read off a video page. Each field is
// extracted on its own; a page missing one of them still yields the rest.
type TrackDescriptor struct {
	Link        string
	Title       Field[string]
	Length      Field[time.Duration]
	Thumbnail   Field[string]
	Author      Field[string]
	Description Field[string]
	Live        Field[bool]
}

const jsonString = `"((?:[^"\\]|\\.)*)"`

var (
	videoDetailsMarker = `"videoDetails":{`

	descRegex      = regexp.MustCompile(`"shortDescription":` + jsonString)
	titleRegex     = regexp.MustCompile(`"title":` + jsonString)
	lengthRegex    = regexp.MustCompile(`"lengthSeconds":"(\d+)"`)
	thumbnailRegex = regexp.MustCompile(`"thumbnails":\[\{"url":"([^"]+)"`)
	authorRegex    = regexp.MustCompile(`"author":` + jsonString)
	liveRegex      = regexp.MustCompile(`"isLiveContent":([^,}\s]*)`)
)

// parseDescriptor extracts the descriptor fields from a raw video page.
// Only a malformed live flag fails the whole extraction.
func parseDescriptor(link, page string) (TrackDescriptor, error) {
	if i := strings.Index(page, videoDetailsMarker); i >= 0 {
		page = page[i:]
	}

	d := TrackDescriptor{Link: link}
	d.Description = matchString(descRegex, page)
	d.Title = matchString(titleRegex, page)
	d.Author = matchString(authorRegex, page)

	if m := lengthRegex.FindStringSubmatch(page); m != nil {
		if secs, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			d.Length = Found(time.Duration(secs) * time.Second)
		}
	}

	if m := thumbnailRegex.FindStringSubmatch(page); m != nil {
		thumb, _, _ := strings.Cut(m[1], "?")
		d.Thumbnail = Found(thumb)
	}

	if m := liveRegex.FindStringSubmatch(page); m != nil {
		live, err := strconv.ParseBool(m[1])
		if err != nil {
			return d, fmt.Errorf("%w: isLiveContent %q: %v", ErrMetadataParse, m[1], err)
		}
		d.Live = Found(live)
	}

	return d, nil
}

func matchString(re *regexp.Regexp, page string) Field[string] {
	m := re.FindStringSubmatch(page)
	if m == nil {
		return Field[string]{}
	}
	return Found(unescapeJSON(m[1]))
}

// unescapeJSON decodes the escapes of a JSON string body, keeping the raw
// text when it does not decode.
func unescapeJSON(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return raw
	}
	return s
}
