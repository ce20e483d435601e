package protocol

import (
	"testing"

	"go.uber.org/zap"
)

func TestAssociationTransitions(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		want   string
	}{
		{"initial", nil, StateUnassociated},
		{"associate", []string{eventAssociate}, StateAssociated},
		{"associate then acquire", []string{eventAssociate, eventAcquire}, StateAddressAcquired},
		{"acquire implies association", []string{eventAcquire}, StateAddressAcquired},
		{"repeat associate ignored", []string{eventAssociate, eventAssociate}, StateAssociated},
		{"associate after acquire ignored", []string{eventAcquire, eventAssociate}, StateAddressAcquired},
		{"lose from acquired", []string{eventAcquire, eventLose}, StateUnassociated},
		{"lose while unassociated", []string{eventLose}, StateUnassociated},
		{"unknown event ignored", []string{"bogus"}, StateUnassociated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAssociationFSM(zap.NewNop(), nil)
			for _, ev := range tt.events {
				if err := fire(f, ev); err != nil {
					t.Fatalf("fire(%q): %v", ev, err)
				}
			}
			if got := f.Current(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAssociationCallbackSeesTransitions(t *testing.T) {
	var seen []string
	f := newAssociationFSM(zap.NewNop(), func(src, dst string) {
		seen = append(seen, src+">"+dst)
	})

	for _, ev := range []string{eventAssociate, eventAcquire, eventAcquire, eventLose} {
		if err := fire(f, ev); err != nil {
			t.Fatalf("fire(%q): %v", ev, err)
		}
	}
	want := []string{
		StateUnassociated + ">" + StateAssociated,
		StateAssociated + ">" + StateAddressAcquired,
		StateAddressAcquired + ">" + StateUnassociated,
	}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %q, want %q", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestTimeoutClassNames(t *testing.T) {
	for _, class := range []TimeoutClass{TimeoutBasic, TimeoutNetwork, TimeoutInbound, TimeoutAssociation, TimeoutTransmit} {
		got, err := ParseTimeoutClass(class.String())
		if err != nil || got != class {
			t.Errorf("ParseTimeoutClass(%q) = %v, %v", class.String(), got, err)
		}
	}
	if _, err := ParseTimeoutClass("forever"); err == nil {
		t.Error("ParseTimeoutClass accepted an unknown name")
	}
}
