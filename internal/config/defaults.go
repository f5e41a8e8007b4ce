package config

const (
	defaultStateDir             = "~/.local/share/voice2action"
	defaultLogDir               = "~/.local/share/voice2action/logs"
	defaultDownloadDir          = "./.work/voice"
	defaultInboxMode            = ModeRemote
	defaultLocalInbox           = "./local_voice_inbox"
	defaultLocalArchive         = "./local_voice_archive"
	defaultGraphBaseURL         = "https://graph.microsoft.com/v1.0/me"
	defaultGraphAuthority       = "https://login.microsoftonline.com/common"
	defaultGraphGrant           = GrantDelegated
	defaultGraphRedirectURI     = "http://localhost:5001/auth/callback"
	defaultRefreshMarginSeconds = 300
	defaultGraphRequestTimeout  = 30
	defaultPollInterval         = 30
	defaultWorkflowWorkers      = 4
	defaultStepMaxAttempts      = 5
	defaultStepInitialBackoffMS = 500
	defaultStepMaxBackoffMS     = 30000
	defaultTranscriptionURL     = "https://api.openai.com/v1/audio/transcriptions"
	defaultTranscriptionModel   = "whisper-1"
	defaultTranscriptionTimeout = 600
	defaultPublishTopic         = "IntentOrchestrator"
	defaultPublishRelayInterval = 5
	defaultPublishTimeout       = 15
	defaultPublishMaxAttempts   = 10
	defaultAPIBind              = "127.0.0.1:5001"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

var defaultGraphScopes = []string{
	"https://graph.microsoft.com/.default",
	"offline_access",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			DownloadDir: defaultDownloadDir,
		},
		Inbox: Inbox{
			Mode:               defaultInboxMode,
			LocalFolder:        defaultLocalInbox,
			LocalArchiveFolder: defaultLocalArchive,
			WatchLocal:         true,
		},
		Graph: Graph{
			BaseURL:              defaultGraphBaseURL,
			Authority:            defaultGraphAuthority,
			Grant:                defaultGraphGrant,
			Scopes:               append([]string(nil), defaultGraphScopes...),
			RedirectURI:          defaultGraphRedirectURI,
			RefreshMarginSeconds: defaultRefreshMarginSeconds,
			RequestTimeout:       defaultGraphRequestTimeout,
		},
		Schedule: Schedule{
			Enabled:      true,
			PollInterval: defaultPollInterval,
		},
		Workflow: Workflow{
			Workers:              defaultWorkflowWorkers,
			StepMaxAttempts:      defaultStepMaxAttempts,
			StepInitialBackoffMS: defaultStepInitialBackoffMS,
			StepMaxBackoffMS:     defaultStepMaxBackoffMS,
			ResumeOnStart:        true,
		},
		Transcription: Transcription{
			URL:            defaultTranscriptionURL,
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscriptionTimeout,
		},
		Publish: Publish{
			Topic:          defaultPublishTopic,
			RelayInterval:  defaultPublishRelayInterval,
			TimeoutSeconds: defaultPublishTimeout,
			MaxAttempts:    defaultPublishMaxAttempts,
		},
		API: API{
			Enabled: true,
			Bind:    defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
