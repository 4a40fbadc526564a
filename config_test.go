package ability_test

import (
	"context"
	"testing"

	"github.com/oarkflow/ability"
)

const sampleYAML = `
version: 1
subjects: [Course, Payment]
roles:
  - id: admin
    name: Administrator
    rules:
      - id: a-all
        actions: [manage]
        subjects: [all]
  - id: editor
    name: Editor
    rules:
      - id: e-upd
        actions: [read, update]
        subjects: [Course]
        conditions:
          companyId: "${user.companyId}"
operations:
  - name: getCourse
    action: read
    subject: Course
  - name: health
    public: true
ownership:
  Course:
    owner_path: ownerId
    allow_override: true
engine:
  decision_cache_ttl_ms: 500
  audit_retention_days: 30
`

func TestConfigLoadYAML(t *testing.T) {
	cfg, err := ability.NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Roles) != 2 || len(cfg.Subjects) != 2 || len(cfg.Operations) != 2 {
		t.Fatalf("config shape wrong: %+v", cfg)
	}
	if cfg.Roles[1].Rules[0].Conditions["companyId"] != "${user.companyId}" {
		t.Fatalf("template condition lost in yaml: %#v", cfg.Roles[1].Rules[0].Conditions)
	}
	if cfg.Ownership["Course"].OwnerPath != "ownerId" {
		t.Fatalf("ownership spec lost: %+v", cfg.Ownership)
	}
	if cfg.Engine.DecisionCacheTTL != 500 || cfg.Engine.AuditRetentionDays != 30 {
		t.Fatalf("engine tuning lost: %+v", cfg.Engine)
	}
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg, err := ability.NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	again, err := ability.NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(again.Roles) != len(cfg.Roles) || again.Engine.DecisionCacheTTL != cfg.Engine.DecisionCacheTTL {
		t.Fatalf("json round trip changed the config")
	}
}

func TestConfigValidateRejectsBadShapes(t *testing.T) {
	cases := []*ability.Config{
		{Roles: []*ability.Role{{ID: "", Name: "x"}}},
		{Roles: []*ability.Role{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}}},
		{Roles: []*ability.Role{{ID: "a", Name: "A", Rules: []*ability.Rule{
			{ID: "r", Actions: []ability.Action{"fly"}, Subjects: []string{"Course"}},
		}}}},
		{Operations: []ability.Operation{{Name: "op"}}},
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestApplyConfigSeedsThroughMutationPath(t *testing.T) {
	f := newFixture(t)
	cfg, err := ability.NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	ctx := context.Background()

	if err := f.engine.ApplyConfig(ctx, cfg, ability.RequestMeta{ActorID: "seed"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	ab, err := f.engine.CompileAbility(&ability.User{ID: "u1", RoleID: "admin"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !ab.Can(ability.ActionDelete, "Payment") {
		t.Fatalf("seeded admin role must be live without a manual reload")
	}

	entries, _ := f.engine.Audit().ByActor(ctx, "seed", 10)
	if len(entries) != 2 {
		t.Fatalf("seeding must audit one entry per role, got %d", len(entries))
	}

	// Re-applying updates instead of failing.
	if err := f.engine.ApplyConfig(ctx, cfg, ability.RequestMeta{ActorID: "seed"}); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
}
