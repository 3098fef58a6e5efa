// Package crm creates sales leads through a Bitrix24 inbound webhook.
//
// The webhook base URL already embeds the portal, user and secret, e.g.
// https://example.bitrix24.ru/rest/1/abc123/, and methods are appended to it:
//
//	POST {base}crm.lead.add.json
//	{"fields": {"TITLE": ..., "NAME": ..., "PHONE": [{"VALUE": ..., "VALUE_TYPE": "WORK"}], ...}}
//
// A successful call answers {"result": <lead id>}. Anything without a result is
// reported as a *RejectedError carrying the portal's error_description.
package crm
