// Package config handles configuration loading for leadbridge.
//
// # Overview
//
// Configuration is read from a YAML or TOML file (chosen by extension) or,
// when no file is given, from a built-in template that references well-known
// environment variables. Either way ${VAR_NAME} references are expanded,
// duration strings are parsed, defaults are applied and the result is
// validated.
//
// # Environment-only deployment
//
// Without a config file these variables are used:
//
//	OPENAI_API_KEY   assistant.api_key (required)
//	ASSISTANT_ID     assistant.assistant_id (required)
//	BITRIX_WEBHOOK   crm.webhook_url (required)
//	TELEGRAM_TOKEN   frontends.telegram.token (required)
//	WEBHOOK_URL      frontends.telegram.webhook_url (optional, enables webhook mode)
//	WEBHOOK_SECRET   frontends.telegram.webhook_secret
//	HTTP_ADDR        server.http_addr (default :8080)
//	LEDGER_PATH      database.path (empty disables the tool-call ledger)
//	LOG_LEVEL        logging.level
//
// A .env file can be loaded first with LoadDotEnv.
//
// # Example
//
//	assistant:
//	  api_key: "${OPENAI_API_KEY}"
//	  assistant_id: "asst_..."
//	  poll_interval: "500ms"
//	  max_polls: 60
//	crm:
//	  webhook_url: "https://example.bitrix24.ru/rest/1/secret/"
//	  timeout: "10s"
//	frontends:
//	  telegram:
//	    enabled: true
//	    token: "${TELEGRAM_TOKEN}"
//	  matrix:
//	    enabled: false
//	bot:
//	  contacts:
//	    email: "sale@nsc-navi.ru"
//
// Durations use time.ParseDuration syntax.
package config
