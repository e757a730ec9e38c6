package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sequencer is the Illumina instrument sub-type of a run.
type Sequencer string

const (
	SequencerMiSeq        Sequencer = "MiSeq"
	SequencerHiSeqX       Sequencer = "HiSeqX"
	SequencerHiSeq        Sequencer = "HiSeq"
	SequencerNovaSeqXPlus Sequencer = "NovaSeqXPlus"
	SequencerNovaSeq      Sequencer = "NovaSeq"
	SequencerNextSeq      Sequencer = "NextSeq"
)

// runParametersNames lists the accepted run-parameter file names in lookup
// order. Both casings occur in the wild depending on control software.
var runParametersNames = []string{"runParameters.xml", "RunParameters.xml"}

var (
	xpSetup           = mustXMLPath("/RunParameters/Setup")
	xpSetupFlowcell   = mustXMLPath("/RunParameters/Setup/Flowcell")
	xpSetupAppName    = mustXMLPath("/RunParameters/Setup/ApplicationName")
	xpInstrumentType  = mustXMLPath("/RunParameters/InstrumentType")
	xpApplication     = mustXMLPath("/RunParameters/Application")
	xpApplicationName = mustXMLPath("/RunParameters/ApplicationName")
)

// findRunParameters returns the path of the run-parameters file in dir.
func findRunParameters(dir string) (string, bool) {
	for _, name := range runParametersNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

// runType extracts the free-text run type string from run parameters.
//
// Older instruments put it under Setup (Flowcell, falling back to
// ApplicationName); NovaSeq X uses InstrumentType; NextSeq and NovaSeq 6000 use
// Application or ApplicationName at the top level.
func runType(doc []byte) (string, error) {
	hasSetup, err := xpSetup.exists(doc)
	if err != nil {
		return "", err
	}
	if hasSetup {
		return firstOf(doc, xpSetupFlowcell, xpSetupAppName)
	}
	if v, ok, err := xpInstrumentType.firstText(doc); err != nil || ok {
		return v, err
	}
	return firstOf(doc, xpApplication, xpApplicationName)
}

func firstOf(doc []byte, paths ...xmlPath) (string, error) {
	for _, p := range paths {
		v, ok, err := p.firstText(doc)
		if err != nil {
			return "", err
		}
		if ok {
			return v, nil
		}
	}
	return "", nil
}

// sequencerFor maps a run type string to a Sequencer. Order matters: "HiSeq X"
// must be checked before "HiSeq", and "NovaSeqXPlus" before "NovaSeq".
func sequencerFor(runType string) (Sequencer, error) {
	switch {
	case strings.Contains(runType, "MiSeq"):
		return SequencerMiSeq, nil
	case strings.Contains(runType, "HiSeq X"):
		return SequencerHiSeqX, nil
	case strings.Contains(runType, "HiSeq"), strings.Contains(runType, "TruSeq"):
		return SequencerHiSeq, nil
	case strings.Contains(runType, "NovaSeqXPlus"):
		return SequencerNovaSeqXPlus, nil
	case strings.Contains(runType, "NovaSeq"):
		return SequencerNovaSeq, nil
	case strings.Contains(runType, "NextSeq"):
		return SequencerNextSeq, nil
	default:
		return "", fmt.Errorf("unrecognized run type %q", runType)
	}
}
