package playlist

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_invalidHeader(t *testing.T) {
	for _, in := range []string{"", "#EXTINF:-1,A\nhttp://x/a\n", "\n#EXTM3U\n", "EXTM3U\n"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("Parse(%q) err=%v want ErrInvalidFormat", in, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) || pe.Line != 1 {
			t.Fatalf("Parse(%q) err=%v want *ParseError at line 1", in, err)
		}
	}
}

func TestParse_attributesAndName(t *testing.T) {
	m3u := `#EXTM3U url-tvg="http://guide/x.xml"
#EXTINF:-1 tvg-id="espn.us" tvg-name="ESPN" tvg-logo="http://logo/espn.png" group-title="Sports, US",ESPN HD
http://example.com/espn
#EXTINF:-1 x-tvg-id="nope",Plain
http://example.com/plain
`
	h, chs, err := ParseWithHeader(strings.NewReader(m3u))
	if err != nil {
		t.Fatal(err)
	}
	if h.Attrs["url-tvg"] != "http://guide/x.xml" {
		t.Fatalf("header attrs=%v", h.Attrs)
	}
	if len(chs) != 2 {
		t.Fatalf("len=%d want 2", len(chs))
	}
	c := chs[0]
	if c.TVGID != "espn.us" || c.TVGName != "ESPN" || c.TVGLogo != "http://logo/espn.png" || c.GroupTitle != "Sports, US" {
		t.Fatalf("attrs=%+v", c)
	}
	if c.Name != "ESPN HD" || c.URL != "http://example.com/espn" {
		t.Fatalf("name=%q url=%q", c.Name, c.URL)
	}
	if c.Status != StatusPending || c.Quality != QualityUnknown || c.ID == "" {
		t.Fatalf("state=%+v", c)
	}
	if chs[1].TVGID != "" {
		t.Fatalf("x-tvg-id leaked into tvg-id: %q", chs[1].TVGID)
	}
	if chs[0].ID == chs[1].ID {
		t.Fatal("ids should be unique")
	}
}

func TestParse_orphanEXTINFDropped(t *testing.T) {
	chs, err := Parse("#EXTM3U\n#EXTINF:-1,Orphan\n#EXTINF:-1,Real\nhttp://x/y")
	if err != nil {
		t.Fatal(err)
	}
	if len(chs) != 1 || chs[0].Name != "Real" || chs[0].URL != "http://x/y" {
		t.Fatalf("got %+v", chs)
	}
	if chs[0].Order != 1 {
		t.Fatalf("order=%d want 1", chs[0].Order)
	}
}

func TestParse_skipsDirectivesBlankLinesAndEmptyNames(t *testing.T) {
	m3u := "#EXTM3U\r\n\r\n#EXTINF:-1,A\r\n#EXTVLCOPT:http-user-agent=x\r\n\r\nhttp://x/a\r\n" +
		"#EXTINF:-1 tvg-id=\"e\",   \r\nhttp://x/empty\r\n" +
		"#EXTINF:-1,B\rhttp://x/b\r" +
		"#EXTINF:-1,C\nhttp://x/c\n#EXTINF:-1,Trailing\n"
	chs, err := Parse(m3u)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		name, url string
	}{{"A", "http://x/a"}, {"B", "http://x/b"}, {"C", "http://x/c"}}
	if len(chs) != len(want) {
		t.Fatalf("len=%d want %d: %+v", len(chs), len(want), chs)
	}
	for i, w := range want {
		if chs[i].Name != w.name || chs[i].URL != w.url || chs[i].Order != i+1 {
			t.Fatalf("chs[%d]=%q %q order=%d want %q %q order=%d", i, chs[i].Name, chs[i].URL, chs[i].Order, w.name, w.url, i+1)
		}
	}
}

func TestParse_headerWithBOMAndWhitespace(t *testing.T) {
	chs, err := Parse("\ufeff  #EXTM3U  \n#EXTINF:-1,A\nhttp://x/a\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(chs) != 1 {
		t.Fatalf("len=%d", len(chs))
	}
}

func TestSerialize_omitsEmptyAttributesAndFollowsOrder(t *testing.T) {
	chs := []Channel{
		{Order: 2, Name: "Second", URL: "http://x/2", GroupTitle: "News"},
		{Order: 1, Name: "First", URL: "http://x/1", TVGID: "first.id"},
	}
	got := Serialize(chs)
	want := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"first.id\",First\nhttp://x/1\n" +
		"#EXTINF:-1 group-title=\"News\",Second\nhttp://x/2\n"
	if got != want {
		t.Fatalf("Serialize=\n%s\nwant\n%s", got, want)
	}
	if chs[0].Name != "Second" {
		t.Fatal("Serialize must not reorder its input")
	}
}

func TestRoundTrip(t *testing.T) {
	in := []Channel{
		{Order: 1, TVGID: "a.id", TVGName: "A", TVGLogo: "http://l/a.png", GroupTitle: "G1", Name: "Alpha", URL: "http://x/a"},
		{Order: 2, Name: "Beta", URL: "http://x/b"},
		{Order: 3, TVGName: "Gamma TV", GroupTitle: "G2", Name: "Gamma HD", URL: "https://x/g.m3u8?token=1&b=2"},
	}
	out, err := Parse(Serialize(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len=%d want %d", len(out), len(in))
	}
	for i := range in {
		a, b := in[i], out[i]
		if a.TVGID != b.TVGID || a.TVGName != b.TVGName || a.TVGLogo != b.TVGLogo ||
			a.GroupTitle != b.GroupTitle || a.Name != b.Name || a.URL != b.URL {
			t.Fatalf("round trip[%d]: got %+v want %+v", i, b, a)
		}
	}
}

func TestWrite_headerAttrs(t *testing.T) {
	var b strings.Builder
	if err := Write(&b, Header{Attrs: map[string]string{"x-tvg-url": "http://g", "url-tvg": "http://g"}}, nil); err != nil {
		t.Fatal(err)
	}
	if got := b.String(); got != "#EXTM3U url-tvg=\"http://g\" x-tvg-url=\"http://g\"\n" {
		t.Fatalf("got %q", got)
	}
}

func TestScanLinesLoneCRAtBufferEnd(t *testing.T) {
	adv, tok, err := scanLines([]byte("abc\r"), false)
	if err != nil || adv != 0 || tok != nil {
		t.Fatalf("want request for more data; got adv=%d tok=%q err=%v", adv, tok, err)
	}
	adv, tok, _ = scanLines([]byte("abc\r"), true)
	if adv != 4 || string(tok) != "abc" {
		t.Fatalf("adv=%d tok=%q", adv, tok)
	}
}

func TestParse_overlongLineSkipped(t *testing.T) {
	huge := strings.Repeat("A", maxLineSize+10)
	cases := map[string]string{
		"long EXTINF": "#EXTM3U\n" +
			`#EXTINF:-1 tvg-logo="data:image/png;base64,` + huge + `",Big` + "\n" +
			"http://example.test/big.ts\n" +
			"#EXTINF:-1,Real\nhttp://example.test/real.ts\n",
		"long URL": "#EXTM3U\n" +
			"#EXTINF:-1,Lost\nhttp://example.test/" + huge + "\r\n" +
			"#EXTINF:-1,Real\nhttp://example.test/real.ts\n",
		"long trailing line": "#EXTM3U\n" +
			"#EXTINF:-1,Real\nhttp://example.test/real.ts\n#" + huge,
	}
	for name, in := range cases {
		chs, err := ParseReader(strings.NewReader(in))
		if err != nil {
			t.Errorf("%s: err=%v", name, err)
			continue
		}
		if len(chs) != 1 || chs[0].Name != "Real" || chs[0].URL != "http://example.test/real.ts" || chs[0].Order != 1 {
			t.Errorf("%s: got %+v", name, chs)
		}
	}
}
