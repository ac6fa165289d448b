package project

import "testing"

func completeProject() Project {
	return Project{
		Name:                  "n",
		ShortDescription:      "sd",
		Description:           "d",
		Challenges:            "c",
		Delimitation:          "l",
		Goal:                  "g",
		Vision:                "v",
		ProfileSelfAssessment: 100,
	}
}

func TestIsProfileComplete(t *testing.T) {
	if !completeProject().IsProfileComplete() {
		t.Fatal("fully filled profile must be complete")
	}

	blank := func(mutate func(*Project)) Project {
		p := completeProject()
		mutate(&p)
		return p
	}
	cases := []struct {
		name string
		p    Project
	}{
		{"name", blank(func(p *Project) { p.Name = "" })},
		{"shortDescription", blank(func(p *Project) { p.ShortDescription = "" })},
		{"description", blank(func(p *Project) { p.Description = "" })},
		{"challenges", blank(func(p *Project) { p.Challenges = "" })},
		{"delimitation", blank(func(p *Project) { p.Delimitation = "" })},
		{"goal", blank(func(p *Project) { p.Goal = "" })},
		{"vision", blank(func(p *Project) { p.Vision = "" })},
		{"selfAssessment 75", blank(func(p *Project) { p.ProfileSelfAssessment = 75 })},
	}
	for _, tc := range cases {
		if tc.p.IsProfileComplete() {
			t.Fatalf("%s missing but profile reads complete", tc.name)
		}
	}
}

func TestValidSelfAssessment(t *testing.T) {
	for _, v := range []int{0, 25, 50, 75, 100} {
		if !ValidSelfAssessment(v) {
			t.Fatalf("%d must be valid", v)
		}
	}
	for _, v := range []int{-25, 1, 24, 26, 99, 101, 125} {
		if ValidSelfAssessment(v) {
			t.Fatalf("%d must be invalid", v)
		}
	}
}

func TestProgressOrdering(t *testing.T) {
	order := []Progress{
		ProgressIdea,
		ProgressCreatingProfile,
		ProgressCreatingPlan,
		ProgressCreatingApplication,
		ProgressApplicationSubmitted,
	}
	for i, p := range order {
		if p.Rank() != i {
			t.Fatalf("%s rank = %d, want %d", p, p.Rank(), i)
		}
	}
	if Progress("bogus").Rank() != -1 {
		t.Fatal("unknown stage must rank -1")
	}
	if !ProgressCreatingPlan.AtLeast(ProgressCreatingProfile) {
		t.Fatal("later stage must satisfy AtLeast of an earlier one")
	}
	if ProgressIdea.AtLeast(ProgressCreatingPlan) {
		t.Fatal("earlier stage must not satisfy AtLeast of a later one")
	}
	if ProgressCreatingPlan.AtLeast(Progress("bogus")) {
		t.Fatal("unknown reference stage never passes")
	}
}

func TestMembershipChecks(t *testing.T) {
	p := Project{Memberships: []Membership{
		{UserID: "o", Role: RoleOwner},
		{UserID: "m", Role: RoleMember},
		{UserID: "a", Role: RoleApplicant},
	}}

	if !p.UserIsOwner("o") || p.UserIsOwner("m") || p.UserIsOwner("a") {
		t.Fatal("only the owner membership grants ownership")
	}
	if !p.UserIsMember("o") || !p.UserIsMember("m") {
		t.Fatal("owners and members are collaborators")
	}
	if p.UserIsMember("a") || p.UserIsMember("stranger") {
		t.Fatal("applicants and strangers are not collaborators")
	}
}
