package registry

import (
	"testing"

	"github.com/fedmesh/node/internal/domain/artifact"
)

type fakeCapability struct {
	kind artifact.DescriptorKind
	tag  string
}

func (f fakeCapability) Kind() artifact.DescriptorKind { return f.kind }
func (f fakeCapability) Tag() string                   { return f.tag }

func TestRegisterResolveRoundTrip(t *testing.T) {
	r := New()
	cap := fakeCapability{kind: artifact.KindModel, tag: "logistic_regression"}
	r.Register(cap)

	got, err := r.Resolve(artifact.Descriptor{Kind: artifact.KindModel, Tag: "logistic_regression"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Tag() != cap.Tag() {
		t.Fatalf("resolved tag = %q, want %q", got.Tag(), cap.Tag())
	}
}

func TestResolveUnknownTagFails(t *testing.T) {
	r := New()
	if _, err := r.Resolve(artifact.Descriptor{Kind: artifact.KindModel, Tag: "missing"}); err == nil {
		t.Fatalf("expected resolving an unregistered tag to fail")
	}
}

func TestResolveRejectsKindMismatch(t *testing.T) {
	r := New()
	r.Register(fakeCapability{kind: artifact.KindEstimator, tag: "mean_estimator"})

	if _, err := r.Resolve(artifact.Descriptor{Kind: artifact.KindModel, Tag: "mean_estimator"}); err == nil {
		t.Fatalf("expected a kind mismatch between descriptor and registered capability to fail")
	}
}

func TestRegisterOverwritesPriorTag(t *testing.T) {
	r := New()
	r.Register(fakeCapability{kind: artifact.KindModel, tag: "dup"})
	r.Register(fakeCapability{kind: artifact.KindEstimator, tag: "dup"})

	got, err := r.Resolve(artifact.Descriptor{Kind: artifact.KindEstimator, Tag: "dup"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Kind() != artifact.KindEstimator {
		t.Fatalf("expected the second registration to win, got kind %s", got.Kind())
	}
}

func TestTagsListsEveryRegisteredTag(t *testing.T) {
	r := New()
	r.Register(fakeCapability{kind: artifact.KindModel, tag: "a"})
	r.Register(fakeCapability{kind: artifact.KindModel, tag: "b"})

	tags := r.Tags()
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}
}
