package scrape

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultImagePath = "password.php"

	paramBackground = "bg"
	paramTimestamp  = "t"
)

var (
	scriptPathPattern = regexp.MustCompile(`(?i)["']([^"'\s<>]*password[^"'\s<>]*)["']`)
	digits            = regexp.MustCompile(`^\d+$`)

	timeNow = time.Now
)

// ImageSource is what the page tells about the credential image.
type ImageSource struct {
	Page        *url.URL
	Base        *url.URL
	Reference   string
	Background  string
	ScriptPaths []string
}

func findImageSource(doc *goquery.Document, page *url.URL) ImageSource {
	src := ImageSource{Page: page, Base: directoryOf(page)}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			src.Base = page.ResolveReference(ref)
		}
	}

	img := doc.Find(`img[src*="password"]`).First()
	if img.Length() > 0 {
		ref, _ := img.Attr("src")
		src.Reference = strings.TrimSpace(ref)
		src.Background = backgroundIndex(img, src.Reference)
	}

	doc.Find("script").Each(func(i int, sel *goquery.Selection) {
		for _, m := range scriptPathPattern.FindAllStringSubmatch(sel.Text(), -1) {
			src.ScriptPaths = append(src.ScriptPaths, m[1])
		}
	})
	return src
}

func backgroundIndex(img *goquery.Selection, reference string) string {
	if bg, ok := img.Attr("data-bg"); ok && digits.MatchString(strings.TrimSpace(bg)) {
		return strings.TrimSpace(bg)
	}
	if u, err := url.Parse(reference); err == nil {
		if bg := u.Query().Get(paramBackground); digits.MatchString(bg) {
			return bg
		}
	}
	return ""
}

// directoryOf drops query and fragment and makes sure the path ends with
// a slash, so relative paths resolve below it.
func directoryOf(u *url.URL) *url.URL {
	dir := *u
	dir.RawQuery = ""
	dir.Fragment = ""
	dir.RawPath = ""
	if !strings.HasSuffix(dir.Path, "/") {
		dir.Path += "/"
	}
	return &dir
}

// Candidates builds the ordered, de-duplicated list of image URLs to try.
// A source without a page URL has no candidates.
func Candidates(src ImageSource, defaultPath string, now time.Time) []string {
	if src.Page == nil {
		return nil
	}
	if defaultPath == "" {
		defaultPath = DefaultImagePath
	}

	paths := make([]string, 0)
	if src.Reference != "" {
		paths = append(paths, src.Reference)
	}
	paths = append(paths, src.ScriptPaths...)
	if len(paths) == 0 {
		paths = append(paths, defaultPath)
	}
	paths = Dedupe(paths)

	base := src.Base
	if base == nil {
		base = directoryOf(src.Page)
	}

	variants := queryVariants(src.Background, now)
	candidates := make([]string, 0, len(paths)*len(variants)+3)
	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		for _, v := range variants {
			candidates = append(candidates, withQuery(resolved, v))
		}
	}

	origin := &url.URL{Scheme: src.Page.Scheme, Host: src.Page.Host, Path: "/" + strings.TrimPrefix(defaultPath, "/")}
	for _, ts := range timestamps(now) {
		candidates = append(candidates, withQuery(origin, map[string]string{paramTimestamp: ts}))
	}

	return Dedupe(candidates)
}

// timestamps in seconds, milliseconds and minute resolution.
func timestamps(now time.Time) []string {
	sec := now.Unix()
	return []string{
		strconv.FormatInt(sec, 10),
		strconv.FormatInt(now.UnixNano()/int64(time.Millisecond), 10),
		strconv.FormatInt(sec-sec%60, 10),
	}
}

func queryVariants(background string, now time.Time) []map[string]string {
	variants := make([]map[string]string, 0, 5)
	for _, ts := range append(timestamps(now), "") {
		v := map[string]string{}
		if background != "" {
			v[paramBackground] = background
		}
		if ts != "" {
			v[paramTimestamp] = ts
		}
		variants = append(variants, v)
	}
	variants = append(variants, map[string]string{})

	seen := make(map[string]struct{}, len(variants))
	out := make([]map[string]string, 0, len(variants))
	for _, v := range variants {
		key := variantKey(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func variantKey(v map[string]string) string {
	pairs := make([]string, 0, len(v))
	for k, val := range v {
		pairs = append(pairs, k+"="+val)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

func withQuery(u *url.URL, v map[string]string) string {
	out := *u
	q := out.Query()
	for k, val := range v {
		q.Set(k, val)
	}
	out.RawQuery = q.Encode()
	return out.String()
}

// Dedupe keeps the first occurrence of every string.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
