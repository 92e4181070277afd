package model

import "testing"

func TestCausalityReadableWritable(t *testing.T) {
	cases := []struct {
		c            Causality
		readable     bool
		writable     bool
	}{
		{Input, true, true},
		{Output, true, false},
		{Parameter, true, true},
		{CalculatedParameter, true, false},
		{Local, true, false},
		{Independent, true, false},
	}
	for _, c := range cases {
		if got := c.c.Readable(); got != c.readable {
			t.Errorf("%v.Readable() = %v, want %v", c.c, got, c.readable)
		}
		if got := c.c.Writable(); got != c.writable {
			t.Errorf("%v.Writable() = %v, want %v", c.c, got, c.writable)
		}
	}
}

func TestDescriptionVariableLookup(t *testing.T) {
	d := &Description{
		Variables: []Variable{
			{Name: "out", Reference: 1, Type: Real, Causality: Output},
			{Name: "in", Reference: 2, Type: Real, Causality: Input},
		},
	}
	v, ok := d.Variable(Real, 1)
	if !ok || v.Name != "out" {
		t.Fatalf("lookup failed: %+v %v", v, ok)
	}
	if _, ok := d.Variable(Real, 99); ok {
		t.Fatal("expected lookup miss for undeclared ref")
	}
	if _, ok := d.Variable(Integer, 1); ok {
		t.Fatal("expected lookup miss for mismatched type")
	}
}

func TestTypeString(t *testing.T) {
	for _, tc := range []struct {
		ty   Type
		want string
	}{{Real, "real"}, {Integer, "integer"}, {Boolean, "boolean"}, {String, "string"}} {
		if got := tc.ty.String(); got != tc.want {
			t.Errorf("Type(%d).String() = %q, want %q", tc.ty, got, tc.want)
		}
	}
}
