package transcript

import "testing"

func TestRejectsNoiseAndFiller(t *testing.T) {
	rejected := []string{
		"",
		"um",
		"uh huh",
		"aaaaaaa",
		"ok",
		"okay",
		"thank you",
		"thanks.",
		"the the the",
		"you you you",
		"...",
		"-- --",
		"beep",
		"click,",
		"a a a",
		"b b b b",
		"hello", // single word
		"um uh like um uh",
	}
	for _, text := range rejected {
		if IsValid(text) {
			t.Errorf("expected %q to be rejected", text)
		}
	}
}

func TestRejectsVowelStarvedOutput(t *testing.T) {
	if IsValid("zzgh qqrt bbnm kkpl wwfd") {
		t.Fatal("expected vowel-starved string to be rejected")
	}
}

func TestAcceptsRealSpeech(t *testing.T) {
	accepted := []string{
		"Let's schedule the follow-up for Friday afternoon.",
		"We agreed to ship the billing migration next sprint.",
		"Can someone own the incident writeup by tomorrow?",
		"The budget review moved to Thursday at ten.",
	}
	for _, text := range accepted {
		if !IsValid(text) {
			t.Errorf("expected %q to be accepted", text)
		}
	}
}

func TestFillerDensityBound(t *testing.T) {
	// Over 70% filler words.
	if IsValid("um uh well like hmm meeting") {
		t.Fatal("expected filler-dominated string to be rejected")
	}
	// Filler present but under the bound passes the density rule.
	if !IsValid("Well, the deployment finished without any errors yesterday.") {
		t.Fatal("expected normal sentence with one filler to be accepted")
	}
}

func TestSpeakerLabelPlaceholder(t *testing.T) {
	if SpeakerLabel() != "Speaker" {
		t.Fatalf("unexpected speaker label %q", SpeakerLabel())
	}
}
