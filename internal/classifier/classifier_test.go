package classifier

import (
	"errors"
	"testing"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/query"
)

func TestClassifyEmptyQueryReturnsInvalidInput(t *testing.T) {
	_, err := Classify("   ")
	if !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClassifyDetectsTroubleshootingIntent(t *testing.T) {
	c, err := Classify("my rust build is broken with a weird error, how do I fix it?")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.ResearchType != query.ResearchTroubleshooting {
		t.Fatalf("expected Troubleshooting, got %s", c.ResearchType)
	}
	if c.Domain != query.DomainRust {
		t.Fatalf("expected Rust domain, got %s", c.Domain)
	}
}

func TestClassifyFallsBackToDefaultsOnNoMatch(t *testing.T) {
	c, err := Classify("tell me about something")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Audience != query.AudienceIntermediate {
		t.Fatalf("expected default Intermediate audience, got %s", c.Audience)
	}
	if c.Urgency != query.UrgencyPlanned {
		t.Fatalf("expected default Planned urgency, got %s", c.Urgency)
	}
	if c.Domain != query.DomainGeneral {
		t.Fatalf("expected default General domain, got %s", c.Domain)
	}
}

func TestClassifyDetectsUrgentUnderPressure(t *testing.T) {
	c, err := Classify("production is down right now, need this fixed asap")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Urgency != query.UrgencyImmediate {
		t.Fatalf("expected Immediate urgency, got %s", c.Urgency)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c1, _ := Classify("how to implement a rust web server")
	c2, _ := Classify("how to implement a rust web server")
	if c1.ResearchType != c2.ResearchType || c1.Domain != c2.Domain ||
		c1.Audience != c2.Audience || c1.Urgency != c2.Urgency || c1.Confidence != c2.Confidence {
		t.Fatalf("expected deterministic classification, got %+v vs %+v", c1, c2)
	}
}
