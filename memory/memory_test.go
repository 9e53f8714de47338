package memory

import "testing"

func TestReadWriteInt(t *testing.T) {
	m := New(64)
	if err := m.WriteInt(10, -1, 4); err != nil {
		t.Fatalf("WriteInt: %v", err)
	}
	v, err := m.ReadInt(10, 4)
	if err != nil {
		t.Fatalf("ReadInt: %v", err)
	}
	if v != -1 {
		t.Errorf("got %d want -1", v)
	}
}

func TestBoundsChecked(t *testing.T) {
	m := New(16)
	if _, err := m.ReadInt(14, 4); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if err := m.WriteByte(16, 1); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if _, err := m.ReadByte(-1); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestPushPopLaw(t *testing.T) {
	m := New(64)
	sp := 64
	sp, err := m.Push(sp, 12345)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if sp != 60 {
		t.Errorf("sp after push = %d, want 60", sp)
	}
	v, sp, err := m.Pop(sp)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if v != 12345 {
		t.Errorf("popped %d, want 12345", v)
	}
	if sp != 64 {
		t.Errorf("sp after pop = %d, want 64", sp)
	}
}

func TestPushOverflow(t *testing.T) {
	m := New(64)
	if _, err := m.Push(2, 1); err == nil {
		t.Fatal("expected stack overflow error")
	}
}

func TestPopUnderflow(t *testing.T) {
	m := New(64)
	if _, _, err := m.Pop(64); err == nil {
		t.Fatal("expected pop to fail reading past RAM")
	}
}

func TestCopyNonOverlapping(t *testing.T) {
	m := New(64)
	src := []byte("hello world!!!!!")
	if err := m.WriteBytes(0, src); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	data, err := m.ReadBytes(0, len(src))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if err := m.WriteBytes(32, data); err != nil {
		t.Fatalf("WriteBytes dst: %v", err)
	}
	got, _ := m.ReadBytes(32, len(src))
	if string(got) != string(src) {
		t.Errorf("copy mismatch: got %q want %q", got, src)
	}
}

func TestFill(t *testing.T) {
	m := New(32)
	if err := m.Fill(4, 'A', 16); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	data, _ := m.ReadBytes(4, 16)
	for i, b := range data {
		if b != 'A' {
			t.Errorf("byte %d = %q, want 'A'", i, b)
		}
	}
}

func TestCompareLexicographic(t *testing.T) {
	m := New(32)
	_ = m.WriteBytes(0, []byte("abc"))
	_ = m.WriteBytes(8, []byte("abd"))
	_ = m.WriteBytes(16, []byte("abc"))

	if r, _ := m.Compare(0, 16, 3); r != 0 {
		t.Errorf("expected equal, got %d", r)
	}
	if r, _ := m.Compare(0, 8, 3); r >= 0 {
		t.Errorf("expected negative (abc < abd), got %d", r)
	}
	if r, _ := m.Compare(8, 0, 3); r <= 0 {
		t.Errorf("expected positive (abd > abc), got %d", r)
	}
}

func TestCString(t *testing.T) {
	m := New(32)
	if err := m.WriteCString(0, "hi"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}
	s, err := m.ReadCString(0)
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if s != "hi" {
		t.Errorf("got %q want %q", s, "hi")
	}
}
