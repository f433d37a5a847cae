package flatbuf

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
)

type testLevel uint8

const (
	levelLow testLevel = iota
	levelMid
	levelHigh
)

type testPoint struct {
	X int32 `flat:"0"`
	Y int32 `flat:"1"`
}

type testShape struct {
	Name     string       `flat:"0"`
	Points   []*testPoint `flat:"1"`
	Closed   bool         `flat:"2"`
	Level    testLevel    `flat:"3,default=1"`
	Tags     []string     `flat:"4"`
	Raw      []byte       `flat:"5"`
	Weights  []float32    `flat:"6"`
	Origin   *testPoint   `flat:"7"`
	Scale    float64      `flat:"8,default=1.5"`
	Offset   int16        `flat:"9,default=-3"`
	Big      uint64       `flat:"10"`
	Obsolete uint32       `flat:"11,deprecated"`
	Comment  string       `flat:"12,name=note"`
	Payload  testPayload  `flat:"13,union"`

	cache int
}

type testPayload interface {
	isTestPayload()
}

type testText struct {
	Body string `flat:"0"`
}

type testBlob struct {
	Data []byte `flat:"0"`
	Size uint32 `flat:"1"`
}

func (*testText) isTestPayload() {}
func (*testBlob) isTestPayload() {}

type testNode struct {
	Value uint8     `flat:"0"`
	Next  *testNode `flat:"1"`
}

// testShapeV1 is an older revision of testShape.
type testShapeV1 struct {
	Name   string       `flat:"0"`
	Points []*testPoint `flat:"1"`
}

var testSchema = sync.OnceValue(func() *Schema {
	scm := NewSchema("test")
	AddTable[testPoint](scm, "Point")
	AddTable[testShape](scm, "Shape")
	AddTable[testText](scm, "Text")
	AddTable[testBlob](scm, "Blob")
	AddTable[testNode](scm, "Node")
	AddUnion[testPayload](scm, "Payload", (*testText)(nil), (*testBlob)(nil))
	return scm
})

var testSchemaV1 = sync.OnceValue(func() *Schema {
	scm := NewSchema("test_v1")
	AddTable[testPoint](scm, "Point")
	AddTable[testShapeV1](scm, "Shape")
	return scm
})

func TestSchemaDescriptor(t *testing.T) {
	scm := testSchema()
	scm.Freeze()
	td := scm.TableNamed("shape")
	if td == nil {
		t.Fatalf("** Shape not found")
	}
	eq(t, td.NumSlots, 15)
	eq(t, td.Field("level").Type, TypeUint8)
	eq(t, td.Field("level").DefaultValue(), any(uint8(1)))
	eq(t, td.Field("offset").DefaultValue(), any(int16(-3)))
	eq(t, td.Field("scale").DefaultValue(), any(1.5))
	eq(t, td.Field("points").Elem, TypeTable)
	eq(t, td.Field("points").Ref.Name, "Point")
	eq(t, td.Field("note").Slot, 12)
	eq(t, td.Field("payload_type").Slot, 13)
	eq(t, td.Field("payload_type").Type, TypeUnionType)
	eq(t, td.Field("payload").Slot, 14)
	eq(t, td.Field("payload").Union.Name, "Payload")
	eq(t, td.FieldAt(6).TypeName(), "[float]")
	eq(t, td.FieldAt(5).TypeName(), "[ubyte]")
	eq(t, td.Field("cache"), (*FieldDef)(nil))

	u := scm.Unions()[0]
	eq(t, u.Variant(2).Table.Name, "Blob")
	eq(t, u.Variant(3), (*UnionVariant)(nil))
}

func TestSchemaDescribe(t *testing.T) {
	s := testSchema().Describe()
	for _, want := range []string{
		"union Payload {\n  Text = 1,\n  Blob = 2,\n}",
		"table Point {\n  x:int (id: 0);\n  y:int (id: 1);\n}",
		"  level:ubyte = 1 (id: 3);\n",
		"  offset:short = -3 (id: 9);\n",
		"  obsolete:uint (id: 11, deprecated);\n",
		"  payload:Payload (id: 14);\n",
		"  points:[Point] (id: 1);\n",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("** Describe() missing %q:\n%s", want, s)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	scm := testSchema()
	in := &testShape{
		Name:    "triangle",
		Points:  []*testPoint{{0, 0}, {10, 0}, {5, -8}},
		Closed:  true,
		Level:   levelHigh,
		Tags:    []string{"a", "", "long tag"},
		Raw:     []byte{0, 1, 2, 0xFF},
		Weights: []float32{0.5, -2},
		Origin:  &testPoint{X: -1, Y: math.MaxInt32},
		Scale:   3,
		Offset:  7,
		Big:     math.MaxUint64,
		Comment: "note",
		Payload: &testBlob{Data: []byte("xyz"), Size: 3},
	}
	buf := must(scm.Encode(in))

	var out testShape
	ensure(scm.Unmarshal(buf, &out))
	deepEqual(t, &out, in)

	in.Payload = &testText{Body: "hi"}
	ensure(scm.Unmarshal(must(scm.Encode(in)), &out))
	deepEqual(t, &out, in)
}

func TestCodecDefaults(t *testing.T) {
	scm := testSchema()
	in := &testShape{Level: levelMid, Scale: 1.5, Offset: -3}
	buf := must(scm.Encode(in))

	tbl := must(Root(buf))
	eq(t, tbl.VTableLen(), 0)

	out := testShape{Name: "stale", Points: []*testPoint{{}}, Payload: &testText{}, Closed: true}
	ensure(scm.Unmarshal(buf, &out))
	deepEqual(t, &out, in)
	eq(t, out.Points == nil, true)
	eq(t, out.Payload, testPayload(nil))
}

func TestCodecZeroValueDiffersFromDefault(t *testing.T) {
	scm := testSchema()
	buf := must(scm.Encode(&testShape{}))
	tbl := must(Root(buf))
	eq(t, tbl.Present(3), true)
	eq(t, tbl.Present(8), true)
	eq(t, tbl.Present(9), true)

	var out testShape
	ensure(scm.Unmarshal(buf, &out))
	eq(t, out.Level, levelLow)
	eq(t, out.Scale, 0.0)
	eq(t, out.Offset, int16(0))
}

func TestCodecDeprecatedFieldIgnored(t *testing.T) {
	scm := testSchema()
	buf := must(scm.Encode(&testShape{Obsolete: 42, Level: 1, Scale: 1.5, Offset: -3}))
	tbl := must(Root(buf))
	eq(t, tbl.Present(11), false)
}

func TestCodecEmptyVsNilSlices(t *testing.T) {
	scm := testSchema()
	buf := must(scm.Encode(&testShape{Tags: []string{}, Raw: []byte{}}))
	var out testShape
	ensure(scm.Unmarshal(buf, &out))
	eq(t, out.Tags != nil, true)
	eq(t, len(out.Tags), 0)
	eq(t, out.Raw != nil, true)
	eq(t, out.Weights == nil, true)
}

func TestCodecForwardCompatibility(t *testing.T) {
	old := &testShapeV1{Name: "square", Points: []*testPoint{{1, 1}}}
	buf := must(testSchemaV1().Encode(old))

	var out testShape
	ensure(testSchema().Unmarshal(buf, &out))
	eq(t, out.Name, "square")
	eq(t, len(out.Points), 1)
	eq(t, out.Level, levelMid)
	eq(t, out.Scale, 1.5)
	eq(t, out.Offset, int16(-3))
	eq(t, out.Payload, testPayload(nil))

	// and the other way around, newer fields are ignored
	var back testShapeV1
	ensure(testSchemaV1().Unmarshal(must(testSchema().Encode(&out)), &back))
	deepEqual(t, &back, old)
}

func TestCodecUnknownUnionVariant(t *testing.T) {
	scm := testSchema()
	b := NewBuilder(0)
	b.StartTable(1)
	b.AddUint32(0, 1, 0)
	v := b.EndTable()
	b.StartTable(15)
	b.AddUint8(13, 9, 0)
	b.AddOffset(14, v)
	b.Finish(b.EndTable())

	var out testShape
	ensure(scm.Unmarshal(must(b.FinishedBytes()), &out))
	eq(t, out.Payload, testPayload(nil))
}

func TestCodecCorruptInput(t *testing.T) {
	scm := testSchema()
	good := must(scm.Encode(&testShape{Name: "n", Points: []*testPoint{{1, 2}}}))

	bad := append([]byte(nil), good...)
	bad = bad[:len(bad)-8]
	var out testShape
	err := scm.Unmarshal(bad, &out)
	isErr(t, err, ErrCorruptBuffer)

	ensure(scm.Unmarshal(good, &out))
	eq(t, out.Name, "n")

	for i := range good {
		buf := append([]byte(nil), good...)
		buf[i] ^= 0xA5
		_ = scm.Unmarshal(buf, &out)
	}
}

func TestCodecNestingIsBounded(t *testing.T) {
	scm := testSchema()
	b := NewBuilder(0)
	var next UOffset
	for i := range maxDepth + 5 {
		b.StartTable(2)
		b.AddUint8(0, uint8(i), 0)
		if next != 0 {
			b.AddOffset(1, next)
		}
		next = b.EndTable()
	}
	b.Finish(next)
	buf := must(b.FinishedBytes())

	var out testNode
	isErr(t, scm.Unmarshal(buf, &out), ErrCorruptBuffer)

	deep := &testNode{}
	for range maxDepth + 1 {
		deep = &testNode{Next: deep}
	}
	if _, err := scm.Encode(deep); err == nil {
		t.Errorf("** encoding %d nested tables succeeded", maxDepth+2)
	}

	shallow := &testNode{Value: 1, Next: &testNode{Value: 2}}
	ensure(scm.Unmarshal(must(scm.Encode(shallow)), &out))
	deepEqual(t, &out, shallow)
}

func TestCodecErrors(t *testing.T) {
	scm := testSchema()

	_, err := scm.Encode(&testShape{Points: []*testPoint{nil}})
	if err == nil || !strings.Contains(err.Error(), "nil table") {
		t.Errorf("** got %v, wanted nil table error", err)
	}

	_, err = scm.Encode((*testShape)(nil))
	if err == nil {
		t.Errorf("** encoding a nil pointer succeeded")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("** unregistered type did not panic")
			}
		}()
		scm.Encode(&testShapeV1{})
	}()

	var nilDst *testShape
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("** nil destination did not panic")
			}
		}()
		scm.Unmarshal(must(scm.Encode(&testShape{})), nilDst)
	}()
}

func TestSchemaRegistrationErrors(t *testing.T) {
	expectPanic := func(name string, f func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("** %s: did not panic", name)
			}
		}()
		f()
	}
	type dupSlot struct {
		A uint8 `flat:"0"`
		B uint8 `flat:"0"`
	}
	type badDefault struct {
		A uint8 `flat:"0,default=300"`
	}
	type badType struct {
		A int `flat:"0"`
	}
	type unionOverlap struct {
		U testPayload `flat:"0,union"`
		B uint8       `flat:"1"`
	}
	type unknownRef struct {
		P *testShapeV1 `flat:"0"`
	}

	expectPanic("duplicate slot", func() { AddTable[dupSlot](NewSchema("x"), "T") })
	expectPanic("bad default", func() { AddTable[badDefault](NewSchema("x"), "T") })
	expectPanic("int", func() { AddTable[badType](NewSchema("x"), "T") })
	expectPanic("union overlap", func() { AddTable[unionOverlap](NewSchema("x"), "T") })
	expectPanic("not a struct", func() { AddTable[int](NewSchema("x"), "T") })
	expectPanic("unknown ref", func() {
		scm := NewSchema("x")
		AddTable[unknownRef](scm, "T")
		scm.Freeze()
	})
	expectPanic("after freeze", func() {
		scm := NewSchema("x")
		AddTable[testPoint](scm, "Point")
		scm.Freeze()
		AddTable[testText](scm, "Text")
	})
	expectPanic("union of non-interface", func() {
		AddUnion[testText](NewSchema("x"), "U", (*testText)(nil))
	})
}

func TestMarshalIntoParent(t *testing.T) {
	scm := testSchema()
	b := NewBuilder(0)
	child := must(scm.Marshal(b, &testPoint{X: 4, Y: 5}))
	b.StartTable(1)
	b.AddOffset(0, child)
	b.Finish(b.EndTable())
	root := must(Root(must(b.FinishedBytes())))
	sub, ok, err := root.Table(0)
	ensure(err)
	eq(t, ok, true)

	var p testPoint
	ensure(scm.DecodeTable(sub, &p))
	eq(t, p, testPoint{4, 5})
}

func TestMarshalReportsBuilderMisuse(t *testing.T) {
	scm := testSchema()
	b := NewBuilder(0)
	b.StartTable(1)
	_, err := scm.Marshal(b, &testPoint{X: 1})
	if !errors.Is(err, ErrOrderingViolation) {
		t.Errorf("** got %v, wanted ErrOrderingViolation", err)
	}
}

func TestCodecConcurrentUse(t *testing.T) {
	scm := testSchema()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				in := &testPoint{X: int32(i), Y: int32(j)}
				var out testPoint
				ensure(scm.Unmarshal(must(scm.Encode(in)), &out))
				if out != *in {
					t.Errorf("** got %v, wanted %v", out, *in)
					return
				}
			}
		}()
	}
	wg.Wait()
}
