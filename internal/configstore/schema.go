package configstore

// storeSchema guards reloads: a wildcard edit that breaks the account
// file shape is discarded and the previous snapshot stays in force.
// Types only; semantic defaults are applied by account.Config.Normalize.
const storeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["accounts"],
  "properties": {
    "accounts": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "account_name": {"type": "string"},
          "account_active": {"type": "boolean"},
          "kill_switch": {
            "type": "object",
            "properties": {
              "enabled": {"type": "boolean"},
              "mtm_limit": {"type": "number"},
              "require_fill_confirmation": {"type": "boolean"},
              "auto_square_off": {"type": "boolean"}
            }
          },
          "monitoring": {
            "type": "object",
            "properties": {
              "poll_interval_seconds": {"type": "number", "minimum": 0},
              "off_market_interval_seconds": {"type": "number", "minimum": 0},
              "retry": {
                "type": "object",
                "properties": {
                  "max_retries": {"type": "integer", "minimum": 0},
                  "base_delay_seconds": {"type": "number", "minimum": 0},
                  "max_delay_seconds": {"type": "number", "minimum": 0}
                }
              }
            }
          },
          "kill_history": {
            "type": "object",
            "properties": {
              "locked_date": {"type": "string"},
              "timestamp": {"type": "string"},
              "verified": {"type": "boolean"}
            }
          },
          "notifications": {"type": "object"},
          "web_automation": {"type": "object"},
          "verification": {"type": "object"}
        }
      }
    }
  }
}`
