package neighbor

import "testing"

func TestUpdate_NewNeighbor(t *testing.T) {
	tr := New()
	tr.Update(0x42, 20)

	if tr.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", tr.Count())
	}
	all := tr.All()
	if all[0].AvgSNR != 20 || all[0].SampleCount != 1 {
		t.Errorf("neighbor = %+v, want AvgSNR=20 SampleCount=1", all[0])
	}
}

func TestUpdate_IgnoresReservedHash(t *testing.T) {
	tr := New()
	tr.Update(0x00, 20)
	tr.Update(0xFF, 20)

	if tr.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 for reserved hashes", tr.Count())
	}
}

func TestUpdate_EMASmoothing(t *testing.T) {
	tr := New()
	tr.Update(0x10, 20)
	tr.Update(0x10, 0) // avg = (0 + 20*3)/4 = 15

	all := tr.All()
	if all[0].AvgSNR != 15 {
		t.Errorf("AvgSNR = %d, want 15", all[0].AvgSNR)
	}
	if all[0].SampleCount != 2 {
		t.Errorf("SampleCount = %d, want 2", all[0].SampleCount)
	}
}

func TestUpdate_SampleCountSaturates(t *testing.T) {
	tr := New()
	for i := 0; i < 300; i++ {
		tr.Update(0x10, 10)
	}
	if tr.All()[0].SampleCount != 255 {
		t.Errorf("SampleCount = %d, want saturated at 255", tr.All()[0].SampleCount)
	}
}

func TestUpdate_FullTableReplacesWeakestOnlyIfStronger(t *testing.T) {
	tr := New()
	for i := 0; i < MaxNeighbors; i++ {
		tr.Update(byte(0x10+i), int8(10+i)) // SNRs: 10..17, weakest is 0x10 at 10
	}
	if tr.Count() != MaxNeighbors {
		t.Fatalf("Count() = %d, want %d", tr.Count(), MaxNeighbors)
	}

	// Weaker than the current weakest (10): should be ignored.
	tr.Update(0x99, 5)
	if tr.find(0x99) >= 0 {
		t.Error("weaker-than-weakest neighbor should not displace anything")
	}

	// Stronger than the current weakest (10): should replace it.
	tr.Update(0xAA, 50)
	if tr.find(0xAA) < 0 {
		t.Error("stronger neighbor should displace the weakest entry")
	}
	if tr.find(0x10) >= 0 {
		t.Error("expected the weakest entry (0x10) to be evicted")
	}
	if tr.Count() != MaxNeighbors {
		t.Fatalf("Count() = %d, want %d after replacement", tr.Count(), MaxNeighbors)
	}
}

func TestBuildList_SortsDescendingBySNR(t *testing.T) {
	tr := New()
	tr.Update(0x01, 5)
	tr.Update(0x02, 20)
	tr.Update(0x03, 10)

	got := tr.BuildList(256)
	want := "02:20 03:10 01:5"
	if got != want {
		t.Errorf("BuildList() = %q, want %q", got, want)
	}
}

func TestBuildList_Empty(t *testing.T) {
	tr := New()
	if got := tr.BuildList(256); got != "No neighbors" {
		t.Errorf("BuildList() = %q, want %q", got, "No neighbors")
	}
}

func TestBuildList_Truncates(t *testing.T) {
	tr := New()
	tr.Update(0x01, 5)
	tr.Update(0x02, 20)

	got := tr.BuildList(5) // only room for the first "02:20" entry
	if got != "02:20" {
		t.Errorf("BuildList(5) = %q, want %q", got, "02:20")
	}
}

func TestClear(t *testing.T) {
	tr := New()
	tr.Update(0x01, 5)
	tr.Clear()
	if tr.Count() != 0 {
		t.Errorf("Count() = %d after Clear, want 0", tr.Count())
	}
}
