package council

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentcouncil/contextbuilder"
	"github.com/hupe1980/agentcouncil/internal/util"
)

// TechnicalDifficulty is the final answer of a run that produced no usable
// text at all.
const TechnicalDifficulty = "The council ran into a technical difficulty and could not produce an answer. Please try again in a moment."

// NeutralCritique stands in for a review that could not be obtained.
const NeutralCritique = "No critique available."

// Bundle limits for the arbiter, in characters.
const (
	bundleQuery       = 500
	bundlePlan        = 800
	bundleSolution    = 1500
	bundleCritique    = 500
	bundleAlternative = 800
)

const taskFenceKeep = 200

func fallbackPlan(input string) string {
	return "1. Understand the request: " + util.Ellipsize(strings.TrimSpace(input), 300) +
		"\n2. Produce a complete and correct answer.\n3. Check edge cases and state any assumptions."
}

// taskFunc renders an agent task in at most room characters.
type taskFunc func(room int) string

// section is a titled body inside a task.
type section struct {
	title string
	body  string
}

// task joins sections and a closing instruction. Section bodies are
// shortened so the result fits in room; titles and the instruction are kept.
func task(instruction string, sections ...section) taskFunc {
	return func(room int) string {
		avail := room - util.Len(instruction)
		for _, s := range sections {
			avail -= util.Len(s.title) + 3
		}
		limits := fitBodies(avail, sections)

		var b strings.Builder
		for i, s := range sections {
			b.WriteString(s.title + "\n" + shorten(s.body, limits[i]) + "\n\n")
		}
		b.WriteString(instruction)
		return b.String()
	}
}

// fitBodies splits avail characters across the section bodies. Short bodies
// are kept whole; the rest share what remains.
func fitBodies(avail int, sections []section) []int {
	order := make([]int, len(sections))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return util.Len(sections[order[a]].body) < util.Len(sections[order[b]].body)
	})

	limits := make([]int, len(sections))
	avail = max(avail, 0)
	for k, i := range order {
		n := min(util.Len(sections[i].body), avail/(len(order)-k))
		limits[i] = n
		avail -= n
	}
	return limits
}

// shorten cuts code fences first and then the tail of body.
func shorten(body string, n int) string {
	excess := util.Len(body) - n
	if excess <= 0 {
		return body
	}
	body, _ = contextbuilder.TruncateFences(body, excess, taskFenceKeep)
	return util.Ellipsize(body, n)
}

func implementTask(plan string) taskFunc {
	return task("Implement the plan. Provide the complete solution.", section{"[PLAN]", plan})
}

func reviewPlanTask(plan string) taskFunc {
	return task("Review this plan for logical errors, missing edge cases and risks. End with your verdict.",
		section{"[PLAN]", plan})
}

func reviewSolutionTask(solution string) taskFunc {
	return task("Review this solution for correctness, edge cases and security. End with your verdict.",
		section{"[SOLUTION]", solution})
}

func proposeTask(plan string) taskFunc {
	return task("Propose a solution. The reviewer will challenge it before you finalize.", section{"[PLAN]", plan})
}

func challengeTask(proposal string) taskFunc {
	return task("Challenge this proposal. Name every flaw, unstated assumption and missing case. End with your verdict.",
		section{"[PROPOSAL]", proposal})
}

func respondTask(proposal, challenge string) taskFunc {
	return task("Respond to the challenge and provide the complete revised solution.",
		section{"[YOUR PROPOSAL]", proposal}, section{"[CHALLENGE]", challenge})
}

func fixTask(critique, solution string) taskFunc {
	return task("Fix ALL issues and provide the complete corrected solution.",
		section{"Your previous solution was REJECTED:", critique}, section{"[PREVIOUS SOLUTION]", solution})
}

func innovateTask(plan string) taskFunc {
	return task("Propose one alternative approach the plan does not consider. Keep it short and concrete.",
		section{"[PLAN]", plan})
}

func arbiterBundle(d *deliberation, maxRounds int) string {
	var note string
	switch {
	case d.forced:
		note = "The review loop ended early because a council member was unavailable. Verify the solution before delivering it."
	case d.approved:
		note = "The reviewer APPROVED the solution."
	default:
		note = fmt.Sprintf("The reviewer did not approve the solution after %d refinement rounds. Resolve the remaining concerns in your answer.", maxRounds)
	}
	var alternative string
	if d.alternative != "" {
		alternative = "\n\n[ALTERNATIVE]\n" + util.Truncate(d.alternative, bundleAlternative)
	}
	return "[ORIGINAL QUERY]\n" + util.Truncate(d.input, bundleQuery) +
		"\n\n[PLAN]\n" + util.Truncate(d.plan, bundlePlan) +
		"\n\n[SOLUTION]\n" + util.Truncate(d.solution, bundleSolution) +
		"\n\n[CRITIQUE]\n" + util.Truncate(d.critique, bundleCritique) +
		alternative +
		"\n\n" + note + "\n\nDeliver the final, authoritative answer."
}

func memoryEntry(input, final string) string {
	return "SUCCESSFUL SOLUTION for: " + util.Truncate(input, 150) + "\n\nFINAL VERDICT: " + util.Truncate(final, 500)
}
