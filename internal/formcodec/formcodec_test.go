package formcodec

import (
	"net/url"
	"reflect"
	"testing"

	"github.com/starford/daylens/internal/models"
)

func TestParseFieldName(t *testing.T) {
	cases := []struct {
		name string
		want Field
		ok   bool
	}{
		{"create[0].description", Field{models.CategoryCreate, 0, "description"}, true},
		{"connect[12].people", Field{models.CategoryConnect, 12, "people"}, true},
		{"learn[3].method", Field{models.CategoryLearn, 3, "method"}, true},
		{"create[0].people", Field{}, false},
		{"create[].description", Field{}, false},
		{"create[-1].description", Field{}, false},
		{"create[a].description", Field{}, false},
		{"create[0]description", Field{}, false},
		{"meditate.duration", Field{}, false},
		{"notes", Field{}, false},
		{"[0].description", Field{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseFieldName(tc.name)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseFieldName(%q) = %+v, %v; want %+v, %v", tc.name, got, ok, tc.want, tc.ok)
		}
		if ok && got.String() != tc.name {
			t.Errorf("String() = %q, want %q", got.String(), tc.name)
		}
	}
}

func TestDecodeGroupsAndOrders(t *testing.T) {
	v := url.Values{}
	v.Set("date", "2024-01-01")
	v.Set("create[2].description", "third")
	v.Set("create[0].description", "first")
	v.Set("connect[0].people", "Ann")
	v.Set("connect[0].notes", "coffee")
	v.Set("learn[0].topic", "Go")
	v.Set("meditate.duration", "15")
	v.Set("meditate.type", "breath")
	v.Set("notes", "good day")
	v.Set("unknown", "ignored")

	f := Decode(v)
	if f.Date != "2024-01-01" || f.Notes != "good day" {
		t.Errorf("scalars = %q, %q", f.Date, f.Notes)
	}
	wantCreate := []models.CreateEntry{{Description: "first"}, {Description: "third"}}
	if !reflect.DeepEqual(f.Create, wantCreate) {
		t.Errorf("create = %+v", f.Create)
	}
	if len(f.Connect) != 1 || f.Connect[0].People != "Ann" || f.Connect[0].Notes != "coffee" {
		t.Errorf("connect = %+v", f.Connect)
	}
	if len(f.Learn) != 1 || f.Learn[0].Topic != "Go" || f.Learn[0].Method != "" {
		t.Errorf("learn = %+v", f.Learn)
	}
	if f.Meditate.Duration != 15 || f.Meditate.Type != "breath" {
		t.Errorf("meditate = %+v", f.Meditate)
	}
}

func TestParseDropsEmptyEntries(t *testing.T) {
	v := url.Values{}
	v.Set("create[0].description", "a")
	v.Set("create[1].description", "")
	v.Set("connect[0].people", "")
	v.Set("connect[0].notes", "")
	v.Set("connect[1].people", "")
	v.Set("connect[1].notes", "just notes")
	v.Set("learn[0].topic", "")
	v.Set("learn[0].method", "")

	f := Parse(v)
	if len(f.Create) != 1 || f.Create[0].Description != "a" {
		t.Errorf("create = %+v, want exactly [a]", f.Create)
	}
	if len(f.Connect) != 1 || f.Connect[0].Notes != "just notes" {
		t.Errorf("connect = %+v", f.Connect)
	}
	if len(f.Learn) != 0 {
		t.Errorf("learn = %+v, want empty", f.Learn)
	}
	if !reflect.DeepEqual(f.Compact(), f) {
		t.Error("Compact is not idempotent")
	}
}

func TestMeditateDurationFallback(t *testing.T) {
	cases := map[string]float64{
		"":      0,
		"abc":   0,
		"-5":    0,
		"NaN":   0,
		"+Inf":  0,
		" 12.5": 12.5,
		"20":    20,
	}
	for in, want := range cases {
		v := url.Values{}
		v.Set("meditate.duration", in)
		if got := Parse(v).Meditate.Duration; got != want {
			t.Errorf("duration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := LogForm{
		Date:     "2024-03-05",
		Create:   []models.CreateEntry{{Description: "x"}, {Description: ""}},
		Connect:  []models.ConnectEntry{{People: "Bo", Notes: "walk"}},
		Learn:    []models.LearnEntry{{Topic: "SQL", Method: "book"}},
		Meditate: models.Meditate{Duration: 10, Type: "body scan"},
		Notes:    "n",
	}
	if got := Decode(Encode(f)); !reflect.DeepEqual(got, f) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, f)
	}
}

func TestWithBlankEntryDoesNotAlias(t *testing.T) {
	f := LogForm{Create: make([]models.CreateEntry, 1, 4)}
	g := f.WithBlankEntry(models.CategoryCreate)
	g.Create[0].Description = "changed"
	if f.Create[0].Description != "" {
		t.Error("WithBlankEntry aliased the original slice")
	}
	if len(g.Create) != 2 {
		t.Errorf("len = %d, want 2", len(g.Create))
	}
}
