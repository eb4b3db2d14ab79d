package council

import (
	"fmt"
	"sort"
)

// LabeledResponse pairs an anonymized label with the response text shown to
// reviewers.
type LabeledResponse struct {
	Label    string
	Response string
}

// Assignment is the per-run binding between labels and models. Labels are
// assigned over the successful Stage-1 participants only, in canonical
// (sorted model id) order rather than arrival order, so two runs with the
// same participant set produce the same label sequence and no timing
// information leaks into the labeling.
type Assignment struct {
	Labels       []string
	LabelToModel map[string]string
	ModelToLabel map[string]string
	Responses    []LabeledResponse
}

// Anonymize filters responses down to the successful ones and binds each to
// an opaque label ("Response A", "Response B", ...). The binding is fresh
// per run.
func Anonymize(responses []ModelResponse) Assignment {
	byModel := make(map[string]ModelResponse)
	ids := make([]string, 0, len(responses))
	for _, r := range responses {
		if !r.OK {
			continue
		}
		if _, seen := byModel[r.Model]; seen {
			continue
		}
		byModel[r.Model] = r
		ids = append(ids, r.Model)
	}
	sort.Strings(ids)

	asg := Assignment{
		Labels:       make([]string, 0, len(ids)),
		LabelToModel: make(map[string]string, len(ids)),
		ModelToLabel: make(map[string]string, len(ids)),
		Responses:    make([]LabeledResponse, 0, len(ids)),
	}
	for i, id := range ids {
		label := fmt.Sprintf("Response %c", 'A'+i)
		asg.Labels = append(asg.Labels, label)
		asg.LabelToModel[label] = id
		asg.ModelToLabel[id] = label
		asg.Responses = append(asg.Responses, LabeledResponse{Label: label, Response: byModel[id].Response})
	}
	return asg
}
