package delta

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuilderNormalizes(t *testing.T) {
	cases := []struct {
		name  string
		build func(*Builder)
		want  string
	}{
		{
			name:  "drops empty ops",
			build: func(b *Builder) { b.Retain(0).Insert("").Delete(0).Retain(2) },
			want:  `[{"retain":2}]`,
		},
		{
			name:  "merges neighbours",
			build: func(b *Builder) { b.Retain(1).Retain(2).Insert("a").Insert("b").Delete(1).Delete(3) },
			want:  `[{"retain":3},{"insert":"ab"},{"delete":4}]`,
		},
		{
			name:  "insert moves before delete",
			build: func(b *Builder) { b.Retain(1).Delete(2).Insert("xy") },
			want:  `[{"retain":1},{"insert":"xy"},{"delete":2}]`,
		},
		{
			name:  "insert after delete joins earlier insert",
			build: func(b *Builder) { b.Insert("a").Delete(2).Insert("b") },
			want:  `[{"insert":"ab"},{"delete":2}]`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			tc.build(b)
			if got := b.Build().String(); got != tc.want {
				t.Fatalf("Build() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	d := NewBuilder().Retain(6).Insert("brave ").Retain(5).Delete(1).Build()
	got, err := d.Apply("hello world!")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got != "hello brave world" {
		t.Fatalf("Apply() = %q", got)
	}

	if _, err := d.Apply("short"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("Apply() on short text error = %v, want ErrLengthMismatch", err)
	}
}

func TestApplyCountsCodePoints(t *testing.T) {
	d := NewBuilder().Retain(2).Insert("é").Retain(1).Build()
	got, err := d.Apply("日本語")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got != "日本é語" {
		t.Fatalf("Apply() = %q", got)
	}
}

func TestComposeMatchesSequentialApply(t *testing.T) {
	text := "the quick brown fox"
	a := NewBuilder().Retain(4).Delete(6).Insert("slow ").Retain(9).Build()
	b := NewBuilder().Insert(">> ").Retain(10).Insert("red ").Retain(8).Build()
	c := NewBuilder().Delete(3).Retain(22).Insert("!").Build()

	stepwise := text
	for _, d := range []Delta{a, b, c} {
		var err error
		stepwise, err = d.Apply(stepwise)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	ab, err := a.Compose(b)
	if err != nil {
		t.Fatalf("Compose(a, b) error = %v", err)
	}
	left, err := ab.Compose(c)
	if err != nil {
		t.Fatalf("Compose(ab, c) error = %v", err)
	}
	bc, err := b.Compose(c)
	if err != nil {
		t.Fatalf("Compose(b, c) error = %v", err)
	}
	right, err := a.Compose(bc)
	if err != nil {
		t.Fatalf("Compose(a, bc) error = %v", err)
	}

	for name, composed := range map[string]Delta{"(ab)c": left, "a(bc)": right} {
		got, err := composed.Apply(text)
		if err != nil {
			t.Fatalf("%s Apply() error = %v", name, err)
		}
		if got != stepwise {
			t.Fatalf("%s Apply() = %q, want %q", name, got, stepwise)
		}
	}
}

func TestComposeOntoInsertionStaysInsertOnly(t *testing.T) {
	doc := Insertion(`{"rows":[]}`)
	edit := NewBuilder().Retain(9).Insert(`1,2`).Retain(2).Build()
	composed, err := doc.Compose(edit)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if want := `[{"insert":"{\"rows\":[1,2]}"}]`; composed.String() != want {
		t.Fatalf("Compose() = %s, want %s", composed, want)
	}
}

func TestComposeRejectsLengthMismatch(t *testing.T) {
	a := Insertion("abc")
	b := NewBuilder().Retain(4).Build()
	if _, err := a.Compose(b); !errors.Is(err, ErrCompose) {
		t.Fatalf("Compose() error = %v, want ErrCompose", err)
	}
}

func TestText(t *testing.T) {
	got, err := Insertion("grid").Text()
	if err != nil || got != "grid" {
		t.Fatalf("Text() = %q, %v", got, err)
	}
	if _, err := NewBuilder().Retain(1).Build().Text(); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("Text() on relative delta error = %v, want ErrLengthMismatch", err)
	}
	empty, err := Delta{}.Text()
	if err != nil || empty != "" {
		t.Fatalf("zero Delta Text() = %q, %v", empty, err)
	}
}

func TestWireForm(t *testing.T) {
	d := NewBuilder().Retain(24).Insert(`{"id":"<1>"}`).Delete(3).Retain(2).Build()
	want := `[{"retain":24},{"insert":"{\"id\":\"<1>\"}"},{"delete":3},{"retain":2}]`
	if got := d.String(); got != want {
		t.Fatalf("String() = %s, want %s", got, want)
	}
	decoded, err := FromString(want)
	if err != nil {
		t.Fatalf("FromString() error = %v", err)
	}
	if diff := cmp.Diff(d.Ops(), decoded.Ops()); diff != "" {
		t.Fatalf("decoded ops mismatch (-want +got):\n%s", diff)
	}
	if decoded.BaseLen() != 29 || decoded.TargetLen() != 38 {
		t.Fatalf("decoded lengths = %d/%d", decoded.BaseLen(), decoded.TargetLen())
	}
}

func TestFromBytesRejectsMalformed(t *testing.T) {
	cases := []string{
		`{"retain":1}`,
		`[{"retain":-1}]`,
		`[{"retain":1,"insert":"a"}]`,
		`[{"format":{"bold":true}}]`,
		`[{"insert":5}]`,
		`not json`,
	}
	for _, input := range cases {
		if _, err := FromString(input); !errors.Is(err, ErrDecode) {
			t.Errorf("FromString(%s) error = %v, want ErrDecode", input, err)
		}
	}
}

func TestDiff(t *testing.T) {
	if _, ok := Diff("same", "same"); ok {
		t.Fatal("Diff() of identical texts reported a change")
	}

	cases := []struct{ from, to string }{
		{`{"block_id":"1","rows":[]}`, `{"block_id":"1","rows":[{"id":"1"}]}`},
		{"height:0,visibility:false", "height:100,visibility:true"},
		{"", "fresh"},
		{"gone", ""},
		{"naïve café", "naive cafés"},
	}
	for _, tc := range cases {
		d, ok := Diff(tc.from, tc.to)
		if !ok {
			t.Fatalf("Diff(%q, %q) reported no change", tc.from, tc.to)
		}
		got, err := d.Apply(tc.from)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got != tc.to {
			t.Fatalf("Diff(%q, %q).Apply() = %q", tc.from, tc.to, got)
		}
	}
}

func TestDiffKeepsCommonAffixesAsRetains(t *testing.T) {
	d, ok := Diff(`{"block_id":"1","rows":[]}`, `{"block_id":"1","rows":[{"id":"1"}]}`)
	if !ok {
		t.Fatal("expected change")
	}
	want := `[{"retain":24},{"insert":"{\"id\":\"1\"}"},{"retain":2}]`
	if d.String() != want {
		t.Fatalf("Diff() = %s, want %s", d, want)
	}
}

func TestDiffOfLargeDocumentIsMinimal(t *testing.T) {
	var from strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&from, `{"id":"%d","height":36,"visibility":true},`, i)
	}
	to := strings.Replace(from.String(), `{"id":"2500","height":36`, `{"id":"2500","height":37`, 1)

	d, ok := Diff(from.String(), to)
	if !ok {
		t.Fatal("expected change")
	}
	inserted, deleted := 0, 0
	for _, op := range d.Ops() {
		switch op.Kind {
		case OpInsert:
			inserted += op.Len()
		case OpDelete:
			deleted += op.N
		}
	}
	if inserted != 1 || deleted != 1 {
		t.Fatalf("expected a one code point edit, got %d inserted %d deleted: %s", inserted, deleted, d)
	}
	got, err := d.Apply(from.String())
	if err != nil || got != to {
		t.Fatalf("Apply() did not reproduce the target: %v", err)
	}
}
