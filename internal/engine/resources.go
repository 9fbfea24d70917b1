package engine

// Schema returns all resource definitions for the orchestrator.
// This is the single source of truth: migrations, API, store, and state
// machines are all derived from this.
func Schema() []Resource {
	return []Resource{
		RepositoryResource(),
		ReleaseResource(),
		DeploymentResource(),
		BackupResource(),
		HealthSnapshotResource(),
	}
}

// RepositoryResource tracks the sync state of each repository in the
// topology. Rows are keyed by repository name and refreshed by SyncRepositories.
func RepositoryResource() Resource {
	return Resource{
		Name:      "repositories",
		RefPrefix: "repo_",
		Fields: []Field{
			StringField("name").WithRequired().WithUnique().WithMinLen(2).WithMaxLen(100).WithPattern(`^[a-z0-9][a-z0-9\-]*$`),
			StringField("kind").WithRequired(),
			StringField("role").WithRequired(),
			StringField("git_url").WithNullable(),
			StringField("path").WithNullable(),
			StringField("version_file").WithNullable(),
			JSONField("depends_on"),
			StringField("current_version").WithNullable(),
			StringField("git_hash").WithNullable(),
			TimestampField("last_commit_at"),
			TimestampField("last_synced_at"),
			StringField("sync_error").WithNullable(),
		},
	}
}

// ReleaseResource is a coordinated release of the whole installation to one
// target version.
func ReleaseResource() Resource {
	return Resource{
		Name:      "releases",
		RefPrefix: "rel_",
		Fields: []Field{
			StringField("version").WithRequired().WithPattern(`^\d+\.\d+\.\d+(-[0-9A-Za-z\-.]+)?$`),
			StringField("previous_version").WithNullable(),
			StringField("status").WithDefault("draft"),
			JSONField("plan"),
			JSONField("release_order"),
			TextField("changelog").WithNullable(),
			StringField("risk").WithNullable(),
			StringField("severity").WithDefault("none"),
			StringField("recommendation").WithDefault("continue"),
			StringField("error_message").WithNullable(),
			TimestampField("started_at"),
			TimestampField("completed_at"),
		},
		StateMachine: &StateMachine{
			Field:   "status",
			Initial: "draft",
			Transitions: map[string][]string{
				"draft":        {"validating"},
				"validating":   {"ready", "rejected"},
				"ready":        {"releasing"},
				"releasing":    {"completed", "failed"},
				"completed":    {"rolling_back"},
				"rejected":     {"validating"},
				"failed":       {"rolling_back"},
				"rolling_back": {"rolled_back", "failed"},
				"rolled_back":  {},
			},
			Guards: map[string]GuardFunc{
				"releasing": RequireField("plan"),
			},
			OnEnter: map[string]string{
				"validating":   "ValidateRelease",
				"releasing":    "ExecuteRelease",
				"rolling_back": "RollbackRelease",
			},
		},
	}
}

// DeploymentResource is one running environment stack (a docker network plus
// the stack's containers and volumes).
func DeploymentResource() Resource {
	return Resource{
		Name:      "deployments",
		RefPrefix: "", // full UUID
		Fields: []Field{
			StringField("name").WithRequired().WithUnique().WithMinLen(2).WithMaxLen(64).WithPattern(`^[a-z0-9][a-z0-9\-]*$`),
			StringField("environment").WithDefault("production"),
			StringField("release_version").WithNullable(),
			TextField("compose_spec").WithNullable(),
			JSONField("variables"),
			JSONField("containers"),
			StringField("status").WithDefault("pending"),
			StringField("error_message").WithNullable(),
			TimestampField("started_at"),
			TimestampField("stopped_at"),
		},
		StateMachine: &StateMachine{
			Field:   "status",
			Initial: "pending",
			Transitions: map[string][]string{
				"pending":  {"starting"},
				"starting": {"running", "failed"},
				"running":  {"stopping", "failed"},
				"stopping": {"stopped"},
				"stopped":  {"starting", "deleting"},
				"failed":   {"starting", "deleting"},
				"deleting": {"deleted"},
				"deleted":  {},
			},
			Guards: map[string]GuardFunc{
				"starting": RequireField("compose_spec"),
			},
			OnEnter: map[string]string{
				"starting": "StartDeployment",
				"stopping": "StopDeployment",
				"deleting": "DeleteDeployment",
				"running":  "DeploymentRunning",
				"failed":   "DeploymentFailed",
			},
		},
	}
}

// BackupResource is one backup run: a tar.gz archive of the requested scope,
// optionally uploaded offsite.
func BackupResource() Resource {
	return Resource{
		Name:      "backups",
		RefPrefix: "bkp_",
		Fields: []Field{
			StringField("scope").WithRequired().WithPattern(`^(configs|volumes|database|full)$`),
			SoftRefField("deployment_id", "deployments"),
			StringField("status").WithDefault("pending"),
			StringField("archive_path").WithNullable(),
			IntField("size_bytes").WithNullable(),
			StringField("checksum").WithNullable(),
			StringField("remote_key").WithNullable(),
			StringField("error_message").WithNullable(),
			TimestampField("completed_at"),
		},
		StateMachine: &StateMachine{
			Field:   "status",
			Initial: "pending",
			Transitions: map[string][]string{
				"pending":   {"running"},
				"running":   {"completed", "failed"},
				"completed": {},
				"failed":    {"pending"},
			},
			OnEnter: map[string]string{
				"running": "RunBackup",
			},
		},
	}
}

// HealthSnapshotResource records the outcome of one validation probe against
// a running deployment. The release monitor appends these on every sweep.
func HealthSnapshotResource() Resource {
	return Resource{
		Name:      "health_snapshots",
		RefPrefix: "hs_",
		Fields: []Field{
			SoftRefField("deployment_id", "deployments"),
			StringField("release_version").WithNullable(),
			StringField("service").WithRequired(),
			StringField("status").WithRequired(),
			IntField("response_time_ms").WithNullable(),
			JSONField("detail"),
			TimestampField("checked_at"),
		},
	}
}
