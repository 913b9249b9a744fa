// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package profile

// term pairs a lower-case pattern with its display form.
type term struct {
	match   string
	display string
}

// conditions is ordered from most to least specific so that "non-small cell
// lung cancer" wins over "lung cancer".
var conditions = []term{
	{"type 2 diabetes mellitus", "Type 2 Diabetes"},
	{"type 2 diabetes", "Type 2 Diabetes"},
	{"type ii diabetes", "Type 2 Diabetes"},
	{"t2dm", "Type 2 Diabetes"},
	{"type 1 diabetes", "Type 1 Diabetes"},
	{"t1dm", "Type 1 Diabetes"},
	{"non-small cell lung cancer", "Non-Small Cell Lung Cancer"},
	{"nsclc", "Non-Small Cell Lung Cancer"},
	{"small cell lung cancer", "Small Cell Lung Cancer"},
	{"lung cancer", "Lung Cancer"},
	{"triple-negative breast cancer", "Triple-Negative Breast Cancer"},
	{"breast cancer", "Breast Cancer"},
	{"prostate cancer", "Prostate Cancer"},
	{"colorectal cancer", "Colorectal Cancer"},
	{"colon cancer", "Colorectal Cancer"},
	{"pancreatic cancer", "Pancreatic Cancer"},
	{"ovarian cancer", "Ovarian Cancer"},
	{"melanoma", "Melanoma"},
	{"multiple myeloma", "Multiple Myeloma"},
	{"leukemia", "Leukemia"},
	{"lymphoma", "Lymphoma"},
	{"congestive heart failure", "Heart Failure"},
	{"heart failure", "Heart Failure"},
	{"coronary artery disease", "Coronary Artery Disease"},
	{"atrial fibrillation", "Atrial Fibrillation"},
	{"hypertension", "Hypertension"},
	{"high blood pressure", "Hypertension"},
	{"hyperlipidemia", "Hyperlipidemia"},
	{"high cholesterol", "Hyperlipidemia"},
	{"chronic kidney disease", "Chronic Kidney Disease"},
	{"ckd", "Chronic Kidney Disease"},
	{"copd", "COPD"},
	{"chronic obstructive pulmonary disease", "COPD"},
	{"asthma", "Asthma"},
	{"alzheimer's disease", "Alzheimer's Disease"},
	{"alzheimer", "Alzheimer's Disease"},
	{"parkinson's disease", "Parkinson's Disease"},
	{"parkinson", "Parkinson's Disease"},
	{"multiple sclerosis", "Multiple Sclerosis"},
	{"rheumatoid arthritis", "Rheumatoid Arthritis"},
	{"osteoarthritis", "Osteoarthritis"},
	{"major depressive disorder", "Depression"},
	{"depression", "Depression"},
	{"obesity", "Obesity"},
	{"stroke", "Stroke"},
	{"hepatitis c", "Hepatitis C"},
	{"hiv", "HIV"},
}

var medications = []string{
	"metformin", "insulin glargine", "insulin", "glipizide", "glyburide", "sitagliptin",
	"empagliflozin", "dapagliflozin", "semaglutide", "liraglutide", "dulaglutide",
	"lisinopril", "losartan", "valsartan", "amlodipine", "hydrochlorothiazide",
	"metoprolol", "carvedilol", "furosemide", "spironolactone",
	"atorvastatin", "simvastatin", "rosuvastatin",
	"warfarin", "apixaban", "rivaroxaban", "clopidogrel", "aspirin",
	"levothyroxine", "omeprazole", "pantoprazole",
	"sertraline", "fluoxetine", "escitalopram", "bupropion",
	"gabapentin", "donepezil", "levodopa", "carbidopa",
	"albuterol", "fluticasone", "tiotropium",
	"prednisone", "methotrexate", "adalimumab",
	"tamoxifen", "letrozole", "anastrozole", "trastuzumab", "pembrolizumab",
	"nivolumab", "osimertinib", "carboplatin", "cisplatin", "paclitaxel", "docetaxel",
}

var treatments = []term{
	{"chemotherapy", "Chemotherapy"},
	{"radiation therapy", "Radiation Therapy"},
	{"radiotherapy", "Radiation Therapy"},
	{"immunotherapy", "Immunotherapy"},
	{"mastectomy", "Mastectomy"},
	{"lumpectomy", "Lumpectomy"},
	{"stem cell transplant", "Stem Cell Transplant"},
	{"bone marrow transplant", "Stem Cell Transplant"},
	{"dialysis", "Dialysis"},
	{"bariatric surgery", "Bariatric Surgery"},
	{"bypass surgery", "Bypass Surgery"},
	{"cabg", "Bypass Surgery"},
	{"angioplasty", "Angioplasty"},
	{"hormone therapy", "Hormone Therapy"},
}
