package shred

import (
	"testing"

	"github.com/ivoronin/shreddupe/internal/types"
)

func testCtx(cfg Config) *schedCtx {
	c := cfg
	ctx := &schedCtx{cfg: &c, gov: newGovernor(c.ParanoidMemBytes)}
	ctx.enqueue = func(f *fileRecord) {}
	return ctx
}

func newTestFile(path string, size int64) *fileRecord {
	return &fileRecord{
		size: size,
		info: &types.FileInfo{Path: path, Size: size},
	}
}

func TestNewGroupZeroSizeGoesStraightToFinishing(t *testing.T) {
	ctx := testCtx(DefaultConfig())
	g := newGroup(ctx, nil, 0, 0, nil)
	if g.status != statusFinishing {
		t.Errorf("zero-size root status = %v, want FINISHING", g.status)
	}
}

func TestNewGroupChildOffsetFactorGrowsAndCaps(t *testing.T) {
	ctx := testCtx(DefaultConfig())
	root := newGroup(ctx, nil, 0, 1<<30, nil)
	if root.offsetFactor != 1 {
		t.Errorf("root offsetFactor = %d, want 1", root.offsetFactor)
	}

	child := newGroup(ctx, root, 1024, 1<<30, NewDigest(DigestStreaming))
	if child.offsetFactor != 8 {
		t.Errorf("first child offsetFactor = %d, want 8", child.offsetFactor)
	}
	if child.refCount != 1 {
		t.Errorf("child refCount = %d, want 1 (parent alive share)", child.refCount)
	}

	grandchild := newGroup(ctx, child, 2048, 1<<30, NewDigest(DigestStreaming))
	if grandchild.offsetFactor != 64 {
		t.Errorf("grandchild offsetFactor = %d, want 64", grandchild.offsetFactor)
	}

	capped := newGroup(ctx, nil, 0, 1<<30, nil)
	capped.offsetFactor = maxReadFactor() * 2
	next := newGroup(ctx, capped, 0, 1<<30, NewDigest(DigestStreaming))
	if next.offsetFactor != maxReadFactor() {
		t.Errorf("offsetFactor should cap at maxReadFactor(), got %d want %d", next.offsetFactor, maxReadFactor())
	}
}

func TestPushFileHoldsUntilPromotionSatisfied(t *testing.T) {
	cfg := DefaultConfig()
	ctx := testCtx(cfg)
	g := newGroup(ctx, nil, 0, 4096, nil)

	f1 := newTestFile("/a", 4096)
	cont := g.pushFile(f1, true)
	if cont {
		t.Error("pushFile should not let a solitary file continue")
	}
	if g.status != statusDormant {
		t.Errorf("status with one member = %v, want DORMANT", g.status)
	}
	if len(g.heldFiles) != 1 {
		t.Errorf("heldFiles = %d, want 1", len(g.heldFiles))
	}

	f2 := newTestFile("/b", 4096)
	g.pushFile(f2, true)
	if g.status != statusHashing {
		t.Errorf("status with two members = %v, want HASHING", g.status)
	}
	if g.nextOffset <= g.hashOffset {
		t.Error("nextOffset should have advanced past hashOffset once hashing starts")
	}
}

func TestPushFileMustMatchTaggedPromotion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MustMatchTagged = true
	ctx := testCtx(cfg)
	g := newGroup(ctx, nil, 0, 4096, nil)

	f1 := newTestFile("/a", 4096)
	f2 := newTestFile("/b", 4096)
	g.pushFile(f1, true)
	g.pushFile(f2, true)
	if g.status != statusDormant {
		t.Errorf("status without any tagged member = %v, want DORMANT (must-match-tagged unsatisfied)", g.status)
	}

	f3 := newTestFile("/tagged/c", 4096)
	f3.preferredPath = true
	g.pushFile(f3, true)
	if g.status != statusHashing {
		t.Errorf("status once a tagged member arrives = %v, want HASHING", g.status)
	}
}

func TestUnrefFreesDormantGroupAtZero(t *testing.T) {
	ctx := testCtx(DefaultConfig())
	g := newGroup(ctx, nil, 0, 4096, nil)
	g.refCount = 1
	g.unref()
	if g.refCount != 0 {
		t.Errorf("refCount after unref = %d, want 0", g.refCount)
	}
}

func TestUnrefNegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("unref past zero should panic")
		}
	}()
	ctx := testCtx(DefaultConfig())
	g := newGroup(ctx, nil, 0, 4096, nil)
	g.refCount = 0
	g.unref()
}

func TestFinalizeCallsOnFinalizeForMultiMemberGroup(t *testing.T) {
	cfg := DefaultConfig()
	var finalized []*fileRecord
	ctx := testCtx(cfg)
	ctx.onFinalize = func(members []*fileRecord) { finalized = members }

	g := newGroup(ctx, nil, 0, 0, nil) // zero-size: straight to FINISHING
	g.refCount = 1
	f1 := newTestFile("/a", 0)
	f2 := newTestFile("/b", 0)
	g.heldFiles = []*fileRecord{f1, f2}
	g.numFiles = 2

	g.unref()

	if len(finalized) != 2 {
		t.Fatalf("onFinalize called with %d members, want 2", len(finalized))
	}
}

func TestFinalizeSkipsSingleMemberGroup(t *testing.T) {
	called := false
	ctx := testCtx(DefaultConfig())
	ctx.onFinalize = func(members []*fileRecord) { called = true }

	g := newGroup(ctx, nil, 0, 0, nil)
	g.refCount = 1
	g.heldFiles = []*fileRecord{newTestFile("/a", 0)}
	g.numFiles = 1

	g.unref()

	if called {
		t.Error("onFinalize should not be called for a single-member class")
	}
}
