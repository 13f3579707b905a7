package jobstore

// SchemaSQL contains the job store schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_type ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string
        ASSERT $value IN ["pending", "running", "running_but_viewable", "complete", "error"];
    DEFINE FIELD IF NOT EXISTS sent_data ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS data ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS requested ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS finished ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS result_url ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS api_key ON job TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;
    DEFINE INDEX IF NOT EXISTS job_requested ON job FIELDS requested;

    -- ==========================================================================
    -- JOB METADATA TABLE (immutable key/value pairs per job)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job_metadata SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON job_metadata TYPE string;
    DEFINE FIELD IF NOT EXISTS key ON job_metadata TYPE string;
    DEFINE FIELD IF NOT EXISTS value ON job_metadata TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON job_metadata TYPE string
        ASSERT $value IN ["string", "json"];

    DEFINE INDEX IF NOT EXISTS job_metadata_job ON job_metadata FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS job_metadata_kv ON job_metadata FIELDS key, value;

    -- ==========================================================================
    -- JOB LOG TABLE (append-only, returned in emission order)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job_log SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON job_log TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS message ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS level ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS module ON job_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS function ON job_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS line ON job_log TYPE option<int>;

    DEFINE INDEX IF NOT EXISTS job_log_job ON job_log FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS job_log_ts ON job_log FIELDS job_id, timestamp;
`
