package vfs

import (
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
)

type stubFD struct {
	BaseFD
}

func newStubFD() *stubFD {
	f := &stubFD{}
	f.InitBaseFD(cloudabi.FiletypeRegularFile, "stub")
	return f
}

func TestTableCheckRightsRejectsMissingRight(t *testing.T) {
	tbl := NewTable()
	fd := tbl.Allocate(FDMapping{FD: newStubFD(), RightsBase: cloudabi.RightFDRead})
	if _, errno := tbl.CheckRights(fd, cloudabi.RightFDWrite); errno != cloudabi.ENotCapable {
		t.Fatalf("CheckRights() = %v, want ENotCapable", errno)
	}
	if _, errno := tbl.CheckRights(fd, cloudabi.RightFDRead); errno != cloudabi.ESuccess {
		t.Fatalf("CheckRights() = %v, want success", errno)
	}
}

func TestTableCheckRightsUnusedFD(t *testing.T) {
	tbl := NewTable()
	if _, errno := tbl.CheckRights(7, cloudabi.RightFDRead); errno != cloudabi.EBadF {
		t.Fatalf("CheckRights(unused) = %v, want EBadF", errno)
	}
}

func TestNarrowNeverWidensRights(t *testing.T) {
	m := FDMapping{RightsBase: cloudabi.RightFDRead | cloudabi.RightFDWrite}
	narrowed := m.Narrow(cloudabi.RightFDRead, 0)
	if narrowed.RightsBase.Has(cloudabi.RightFDWrite) {
		t.Fatal("Narrow() must not retain a right absent from the requested mask")
	}
	if !narrowed.RightsBase.Has(cloudabi.RightFDRead) {
		t.Fatal("Narrow() dropped a right present in both masks")
	}
}

func TestRenumberMovesFD(t *testing.T) {
	tbl := NewTable()
	fd := tbl.Allocate(FDMapping{FD: newStubFD(), RightsBase: cloudabi.RightFDRead})
	if errno := tbl.Renumber(fd, fd+10); errno != cloudabi.ESuccess {
		t.Fatalf("Renumber() = %v", errno)
	}
	if _, ok := tbl.Get(fd); ok {
		t.Fatal("source fd should be gone after renumber")
	}
	if _, ok := tbl.Get(fd + 10); !ok {
		t.Fatal("destination fd should exist after renumber")
	}
}

func TestCloseUnusedFD(t *testing.T) {
	tbl := NewTable()
	if errno := tbl.Close(3); errno != cloudabi.EBadF {
		t.Fatalf("Close(unused) = %v, want EBadF", errno)
	}
}
