package generator

import "testing"

func TestToGoName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"format_version", "FormatVersion"},
		{"id", "ID"},
		{"name", "Name"},
		{"title", "Title"},
		{"type", "Type"},
		{"url", "URL"},
		{"urls", "URLs"},
		{"api", "API"},
		{"ip", "IP"},
		{"cpu", "CPU"},
		{"ssl", "SSL"},
		{"tls", "TLS"},
		{"http", "HTTP"},
		{"ui", "UI"},
		{"svg", "SVG"},
		{"json", "JSON"},
		{"dns", "DNS"},
		{"os", "OS"},
		{"ca", "CA"},
		{"order_items", "OrderItems"},
		{"created_at", "CreatedAt"},
		{"parent_id", "ParentID"},
		{"user uuid", "UserUUID"},
		{"2nd_line", "X2ndLine"},
		{"price$", "Price"},
		{"format-version", "FormatVersion"},
		{"elasticsearch", "Elasticsearch"},
		{"dynamic_dataset", "DynamicDataset"},
		{"dynamic_namespace", "DynamicNamespace"},
		{"index_mode", "IndexMode"},
		{"source_mode", "SourceMode"},
		{"template_path", "TemplatePath"},
		{"max_age", "MaxAge"},
		{"default_field", "DefaultField"},
		{"metric_type", "MetricType"},
		{"object_type", "ObjectType"},
		{"scaling_factor", "ScalingFactor"},
		{"ignore_above", "IgnoreAbove"},
		{"copy_to", "CopyTo"},
		{"null_value", "NullValue"},
		{"multi_fields", "MultiFields"},
		{"date_detection", "DateDetection"},
		{"dynamic_date_formats", "DynamicDateFormats"},
		{"dynamic_templates", "DynamicTemplates"},
		{"content_media_type", "ContentMediaType"},
		{"asset_types", "AssetTypes"},
		{"asset_ids", "AssetIDs"},
		{"exclude_checks", "ExcludeChecks"},
		{"docs_structure_enforced", "DocsStructureEnforced"},
		{"data_retention", "DataRetention"},
		{"ssl_verification_mode", "SSLVerificationMode"},
		{"http_url", "HTTPURL"},
		{"api_key", "APIKey"},
		{"dns_server", "DNSServer"},
		{"os_type", "OSType"},
		{"ca_cert", "CACert"},
		{"policy_templates_behavior", "PolicyTemplatesBehavior"},
		{"format_version", "FormatVersion"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToGoName(tt.input)
			if got != tt.want {
				t.Errorf("ToGoName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToTypeName(t *testing.T) {
	tests := []struct {
		sqlName  string
		fallback string
		want     string
	}{
		{"users", "Table", "Users"},
		{"order_items", "Table", "OrderItems"},
		{"OrderItems", "Table", "OrderItems"},
		{"user status", "Enum", "UserStatus"},
		{"2fa_tokens", "Table", "X2faTokens"},
		{"___", "Table", "Table"},
		{"€", "Enum", "Enum"},
	}

	for _, tt := range tests {
		t.Run(tt.sqlName, func(t *testing.T) {
			got := ToTypeName(tt.sqlName, tt.fallback)
			if got != tt.want {
				t.Errorf("ToTypeName(%q, %q) = %q, want %q", tt.sqlName, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestParamName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"id", "id"},
		{"user_id", "userID"},
		{"url_path", "urlPath"},
		{"Email", "email"},
		{"type", "type_"},
		{"range", "range_"},
		{"values", "values_"},
		{"ctx", "ctx_"},
		{"p", "p_"},
		{"---", "v"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := paramName(tt.input); got != tt.want {
				t.Errorf("paramName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnumConstName(t *testing.T) {
	tests := []struct {
		typeName string
		label    string
		want     string
	}{
		{"UserStatus", "active", "UserStatusActive"},
		{"UserStatus", "on hold", "UserStatusOnHold"},
		{"Mood", "x-ray", "MoodXRay"},
		{"Level", "1", "Level1"},
		{"Level", "", "LevelEmpty"},
		{"Level", "!!", "LevelEmpty"},
	}

	for _, tt := range tests {
		if got := enumConstName(tt.typeName, tt.label); got != tt.want {
			t.Errorf("enumConstName(%q, %q) = %q, want %q", tt.typeName, tt.label, got, tt.want)
		}
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"format_version", []string{"format", "version"}},
		{"formatVersion", []string{"format", "Version"}},
		{"format-version", []string{"format", "version"}},
		{"URLParser", []string{"URL", "Parser"}},
		{"myURL", []string{"my", "URL"}},
		{"simple", []string{"simple"}},
		{"a_b_c", []string{"a", "b", "c"}},
		{"HTTPSServer", []string{"HTTPS", "Server"}},
		{"getHTTPResponse", []string{"get", "HTTP", "Response"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := splitWords(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("splitWords(%q) = %v (len %d), want %v (len %d)",
					tt.input, got, len(got), tt.want, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitWords(%q)[%d] = %q, want %q",
						tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}
